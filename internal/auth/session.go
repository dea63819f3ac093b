package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrPasswordChangeRequired blocks accounts created by the bootstrap CLI until
// the initial password is replaced.
var ErrPasswordChangeRequired = errors.New("password change required")

// Session is the authenticated operator. Every content mutation receives it
// explicitly; a nil session means the caller is not signed in.
type Session struct {
	UserID   uuid.UUID
	Username string
}

// Valid reports whether s identifies an operator.
func (s *Session) Valid() bool {
	return s != nil && s.UserID != uuid.Nil
}

type sessionKey struct{}

// WithSession stores the session in ctx.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFromContext returns the session stored by WithSession.
func SessionFromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(*Session)
	if !ok || !s.Valid() {
		return nil, false
	}
	return s, true
}
