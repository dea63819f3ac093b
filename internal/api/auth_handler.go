package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"memorial/internal/api/middleware"
	"memorial/internal/auth"
	"memorial/internal/database"
)

const (
	refreshTokenCookieName = "refresh_token"
	refreshTokenCookiePath = "/v1/auth"
)

// authRedis is the subset of go-redis used for login throttling and refresh
// token revocation.
type authRedis interface {
	guardRedis
	revocationRedis
}

// AuthHandler signs operators in and out of the admin panel. Operator
// accounts are created by the admin CLI; there is no self registration.
type AuthHandler struct {
	db           *gorm.DB
	authService  *auth.AuthService
	guard        *loginGuard
	refresh      refreshTokens
	logger       *slog.Logger
	cookieDomain string
}

// NewAuthHandler builds the handler.
func NewAuthHandler(db *gorm.DB, authService *auth.AuthService, redisClient authRedis, logger *slog.Logger, loginRateLimitPerHour int, loginLockThreshold int, loginLockTTL time.Duration, cookieDomain string) *AuthHandler {
	return &AuthHandler{
		db:          db,
		authService: authService,
		guard: &loginGuard{
			redis:     redisClient,
			perHour:   loginRateLimitPerHour,
			threshold: loginLockThreshold,
			lockTTL:   loginLockTTL,
			now:       time.Now,
		},
		refresh:      refreshTokens{auth: authService, redis: redisClient},
		logger:       logger,
		cookieDomain: strings.TrimSpace(cookieDomain),
	}
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required,min=8,max=72"`
	NewPassword     string `json:"new_password" binding:"required,min=8,max=72"`
	ConfirmPassword string `json:"confirm_password" binding:"required,min=8,max=72"`
}

type tokenResponse struct {
	AccessToken        string `json:"access_token"`
	TokenType          string `json:"token_type"`
	ExpiresIn          int    `json:"expires_in"`
	Username           string `json:"username"`
	MustChangePassword bool   `json:"must_change_password"`
}

// Login checks the operator's credentials and opens an admin session.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	operator := operatorKey(req.Username)
	logger := h.loggerFromContext(c).With(slog.String("operator", operator))

	if err := h.guard.admit(ctx, operator); err != nil {
		if errors.Is(err, errOperatorLocked) || errors.Is(err, errLoginRateLimited) {
			logger.Info("login refused", slog.String("reason", err.Error()))
			Error(c, http.StatusTooManyRequests, err.Error())
			return
		}
		logger.Warn("login throttle unavailable", slog.Any("error", err))
	}

	user, err := h.findOperator(ctx, "LOWER(username) = ?", operator)
	if err == nil && !h.authService.CheckPasswordHash(req.Password, user.PasswordHash) {
		err = gorm.ErrRecordNotFound
	}
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Error("load operator failed", slog.Any("error", err))
			Internal(c, "internal error")
			return
		}
		locked, gerr := h.guard.fail(ctx, operator)
		if gerr != nil {
			logger.Warn("record login failure failed", slog.Any("error", gerr))
		}
		logger.Info("login failed", slog.Bool("locked", locked))
		Unauthorized(c)
		return
	}

	if err := h.guard.reset(ctx, operator); err != nil {
		logger.Warn("reset login failures failed", slog.Any("error", err))
	}
	logger.Info("operator signed in", slog.String("user_id", user.ID.String()))
	h.openSession(c, operatorSession(user), user.MustChangePassword)
}

// Refresh trades a refresh token for a new pair. Each refresh token works
// once.
func (h *AuthHandler) Refresh(c *gin.Context) {
	ctx := c.Request.Context()
	logger := h.loggerFromContext(c)

	claims, err := h.refresh.parse(ctx, h.presentedRefreshToken(c))
	if err != nil {
		if !errors.Is(err, errInvalidRefreshToken) {
			logger.Error("refresh token lookup failed", slog.Any("error", err))
			Internal(c, "internal error")
			return
		}
		Unauthorized(c)
		return
	}

	user, err := h.findOperator(ctx, "id = ?", claims.UserID)
	if err != nil {
		logger.Info("refresh for unknown operator", slog.Any("error", err))
		Unauthorized(c)
		return
	}
	if err := h.refresh.revoke(ctx, claims); err != nil {
		logger.Error("revoke rotated refresh token failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	h.openSession(c, operatorSession(user), user.MustChangePassword)
}

// Logout ends the operator's session: the presented refresh token is revoked
// and its cookie cleared. Access tokens expire on their own.
func (h *AuthHandler) Logout(c *gin.Context) {
	sess, ok := middleware.SessionFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	if err := h.revokePresented(c, sess); err != nil {
		h.loggerFromContext(c).Error("logout revoke failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	h.setRefreshCookie(c, "", -1)
	h.loggerFromContext(c).Info("operator signed out", slog.String("user_id", sess.UserID.String()))
	Success(c, http.StatusOK, nil)
}

// ChangePassword replaces the operator's password and clears the must-change
// flag set by the admin CLI. The old refresh token stops working.
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	if req.NewPassword != req.ConfirmPassword {
		BadRequest(c, "password confirmation does not match")
		return
	}
	if strings.TrimSpace(req.NewPassword) == strings.TrimSpace(req.CurrentPassword) {
		BadRequest(c, "new password must be different from current password")
		return
	}

	sess, ok := middleware.SessionFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	logger := h.loggerFromContext(c).With(slog.String("user_id", sess.UserID.String()))

	user, err := h.findOperator(ctx, "id = ?", sess.UserID)
	if err != nil || !h.authService.CheckPasswordHash(req.CurrentPassword, user.PasswordHash) {
		logger.Info("change password refused", slog.Any("error", err))
		Unauthorized(c)
		return
	}

	hashed, err := h.authService.HashPassword(req.NewPassword)
	if err != nil {
		logger.Error("hash new password failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	if err := h.db.WithContext(ctx).Model(&user).Updates(map[string]any{
		"password_hash":        hashed,
		"must_change_password": false,
	}).Error; err != nil {
		logger.Error("store new password failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	if err := h.revokePresented(c, sess); err != nil {
		logger.Error("revoke refresh after password change failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	logger.Info("operator password changed")
	h.openSession(c, sess, false)
}

func (h *AuthHandler) findOperator(ctx context.Context, query string, arg any) (database.User, error) {
	var user database.User
	err := h.db.WithContext(ctx).Where(query, arg).First(&user).Error
	return user, err
}

func operatorSession(user database.User) *auth.Session {
	return &auth.Session{UserID: user.ID, Username: user.Username}
}

// openSession issues a token pair for sess, storing the refresh token in an
// HttpOnly cookie scoped to the auth routes.
func (h *AuthHandler) openSession(c *gin.Context, sess *auth.Session, mustChangePassword bool) {
	pair, err := h.authService.GenerateTokenPair(sess.UserID, sess.Username, mustChangePassword)
	if err != nil {
		h.loggerFromContext(c).Error("generate token pair failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	maxAge := int(h.authService.RefreshTokenTTL().Seconds())
	if maxAge <= 0 {
		maxAge = int(time.Hour.Seconds())
	}
	h.setRefreshCookie(c, pair.RefreshToken, maxAge)
	c.JSON(http.StatusOK, tokenResponse{
		AccessToken:        pair.AccessToken,
		TokenType:          "Bearer",
		ExpiresIn:          int(h.authService.AccessTokenTTL().Seconds()),
		Username:           sess.Username,
		MustChangePassword: mustChangePassword,
	})
}

// revokePresented revokes the refresh token sent with the request when it
// belongs to sess. A missing or foreign token is ignored.
func (h *AuthHandler) revokePresented(c *gin.Context, sess *auth.Session) error {
	claims, err := h.refresh.parse(c.Request.Context(), h.presentedRefreshToken(c))
	if err != nil {
		if errors.Is(err, errInvalidRefreshToken) {
			return nil
		}
		return err
	}
	if claims.UserID != sess.UserID {
		return nil
	}
	return h.refresh.revoke(c.Request.Context(), claims)
}

// presentedRefreshToken reads the cookie first and falls back to the JSON
// body for clients that cannot hold cookies.
func (h *AuthHandler) presentedRefreshToken(c *gin.Context) string {
	if token, err := c.Cookie(refreshTokenCookieName); err == nil && token != "" {
		return token
	}
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err == nil {
		return req.RefreshToken
	}
	return ""
}

func (h *AuthHandler) setRefreshCookie(c *gin.Context, value string, maxAge int) {
	secure := c.Request.TLS != nil || strings.EqualFold(c.GetHeader("X-Forwarded-Proto"), "https")
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(refreshTokenCookieName, value, maxAge, refreshTokenCookiePath, h.cookieDomain, secure, true)
}

func (h *AuthHandler) loggerFromContext(c *gin.Context) *slog.Logger {
	if logger := middleware.LoggerFromContext(c); logger != nil {
		return logger
	}
	if h.logger != nil {
		return h.logger
	}
	return slog.Default()
}
