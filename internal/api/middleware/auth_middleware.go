package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"memorial/internal/auth"
)

const (
	sessionKey            = "session"
	mustChangePasswordKey = "mustChangePassword"
)

func abortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
}

// BearerToken extracts the token of an "Authorization: Bearer" header.
func BearerToken(header string) (string, bool) {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

// AuthMiddleware validates the access token and stores the operator session
// in both the gin context and the request context.
func AuthMiddleware(authService *auth.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		rawToken, ok := BearerToken(c.GetHeader("Authorization"))
		if !ok {
			abortUnauthorized(c)
			return
		}

		claims, err := authService.ValidateToken(rawToken)
		if err != nil || claims.TokenType != auth.TokenTypeAccess {
			abortUnauthorized(c)
			return
		}

		sess := &auth.Session{UserID: claims.UserID, Username: claims.Username}
		if !sess.Valid() {
			abortUnauthorized(c)
			return
		}

		c.Set(sessionKey, sess)
		c.Set(mustChangePasswordKey, claims.MustChangePassword)
		c.Request = c.Request.WithContext(auth.WithSession(c.Request.Context(), sess))
		c.Next()
	}
}

// SessionFromContext returns the session set by AuthMiddleware.
func SessionFromContext(c *gin.Context) (*auth.Session, bool) {
	value, ok := c.Get(sessionKey)
	if !ok {
		return nil, false
	}
	sess, ok := value.(*auth.Session)
	if !ok || !sess.Valid() {
		return nil, false
	}
	return sess, true
}

// SetSession stores sess the way AuthMiddleware does. Handlers that
// authenticate in-band, like the board socket, use it too.
func SetSession(c *gin.Context, sess *auth.Session) {
	c.Set(sessionKey, sess)
	if c.Request != nil {
		c.Request = c.Request.WithContext(auth.WithSession(c.Request.Context(), sess))
	}
}
