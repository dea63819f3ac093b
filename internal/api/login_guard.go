package api

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	errLoginRateLimited = errors.New("rate limit exceeded")
	errOperatorLocked   = errors.New("account temporarily locked")
)

type guardRedis interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	TTL(ctx context.Context, key string) *redis.DurationCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// loginGuard throttles sign-in per operator account. Operators are few and
// created by the admin CLI, so the counters follow the account rather than
// the client address.
type loginGuard struct {
	redis     guardRedis
	perHour   int
	threshold int
	lockTTL   time.Duration
	now       func() time.Time
}

func operatorKey(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func attemptsKey(operator string, at time.Time) string {
	return "memorial:login:attempts:" + operator + ":" + at.UTC().Format("2006010215")
}

func failuresKey(operator string) string { return "memorial:login:failures:" + operator }
func lockedKey(operator string) string   { return "memorial:login:locked:" + operator }

// admit counts one attempt for operator and reports errOperatorLocked or
// errLoginRateLimited when it must be refused. Any other error comes from
// Redis.
func (g *loginGuard) admit(ctx context.Context, operator string) error {
	ttl, err := g.redis.TTL(ctx, lockedKey(operator)).Result()
	if err != nil {
		return err
	}
	if ttl > 0 {
		return errOperatorLocked
	}

	attempts, err := g.incr(ctx, attemptsKey(operator, g.now()), time.Hour)
	if err != nil {
		return err
	}
	if g.perHour > 0 && attempts > int64(g.perHour) {
		return errLoginRateLimited
	}
	return nil
}

// fail records a bad password and locks the account once the threshold is
// reached inside lockTTL.
func (g *loginGuard) fail(ctx context.Context, operator string) (bool, error) {
	failures, err := g.incr(ctx, failuresKey(operator), g.lockTTL)
	if err != nil {
		return false, err
	}
	if g.threshold <= 0 || failures < int64(g.threshold) {
		return false, nil
	}
	return true, g.redis.Set(ctx, lockedKey(operator), "1", g.lockTTL).Err()
}

func (g *loginGuard) reset(ctx context.Context, operator string) error {
	return g.redis.Del(ctx, failuresKey(operator)).Err()
}

func (g *loginGuard) incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := g.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 && ttl > 0 {
		_ = g.redis.Expire(ctx, key, ttl).Err()
	}
	return n, nil
}
