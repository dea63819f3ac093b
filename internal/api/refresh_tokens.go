package api

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"memorial/internal/auth"
)

const revokedRefreshKeyPrefix = "memorial:auth:revoked:"

var errInvalidRefreshToken = errors.New("invalid refresh token")

type revocationRedis interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// refreshTokens enforces single use of refresh tokens by remembering the ids
// of rotated and logged-out tokens until they would have expired anyway.
type refreshTokens struct {
	auth  *auth.AuthService
	redis revocationRedis
}

// parse validates raw as an unrevoked refresh token.
func (r refreshTokens) parse(ctx context.Context, raw string) (*auth.TokenClaims, error) {
	if raw == "" {
		return nil, errInvalidRefreshToken
	}
	claims, err := r.auth.ValidateToken(raw)
	if err != nil || claims.TokenType != auth.TokenTypeRefresh || claims.ID == "" {
		return nil, errInvalidRefreshToken
	}

	switch err := r.redis.Get(ctx, revokedRefreshKeyPrefix+claims.ID).Err(); {
	case err == nil:
		return nil, errInvalidRefreshToken
	case errors.Is(err, redis.Nil):
		return claims, nil
	default:
		return nil, err
	}
}

func (r refreshTokens) revoke(ctx context.Context, claims *auth.TokenClaims) error {
	ttl := r.auth.RefreshTokenTTL()
	if claims.ExpiresAt != nil {
		ttl = time.Until(claims.ExpiresAt.Time)
	}
	if ttl <= 0 {
		ttl = time.Second
	}
	return r.redis.Set(ctx, revokedRefreshKeyPrefix+claims.ID, "revoked", ttl).Err()
}
