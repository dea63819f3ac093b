package site

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"memorial/internal/metrics"
)

// SnapshotKey is the Redis key holding the rendered page payload.
const SnapshotKey = "site:page:v1"

type redisKV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Cache keeps the latest built page in Redis for ttl. A zero ttl disables
// caching.
type Cache struct {
	rdb     redisKV
	builder *Builder
	ttl     time.Duration
	logger  *slog.Logger
}

// NewCache wraps builder with a Redis snapshot. rdb may be nil.
func NewCache(rdb redisKV, builder *Builder, ttl time.Duration, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{rdb: rdb, builder: builder, ttl: ttl, logger: logger}
}

// Page returns the cached snapshot, rebuilding it on a miss. Redis failures
// fall through to a fresh build.
func (c *Cache) Page(ctx context.Context) *Page {
	if c.rdb == nil || c.ttl <= 0 {
		return c.builder.Build(ctx)
	}

	raw, err := c.rdb.Get(ctx, SnapshotKey).Bytes()
	switch {
	case err == nil:
		var page Page
		if err := json.Unmarshal(raw, &page); err == nil {
			metrics.ObserveSnapshot(metrics.SnapshotHit)
			return &page
		}
		metrics.ObserveSnapshot(metrics.SnapshotCorrupt)
		c.logger.Warn("discarding corrupt page snapshot")
	case errors.Is(err, redis.Nil):
		metrics.ObserveSnapshot(metrics.SnapshotMiss)
	default:
		metrics.ObserveSnapshot(metrics.SnapshotError)
		c.logger.Warn("read page snapshot", slog.Any("error", err))
	}

	page := c.builder.Build(ctx)
	if err := c.store(ctx, page); err != nil {
		c.logger.Warn("store page snapshot", slog.Any("error", err))
	}
	return page
}

// Refresh rebuilds the page and overwrites the snapshot.
func (c *Cache) Refresh(ctx context.Context) (*Page, error) {
	page := c.builder.Build(ctx)
	if c.rdb == nil || c.ttl <= 0 {
		return page, nil
	}
	return page, c.store(ctx, page)
}

// Purge drops the snapshot so the next read rebuilds it.
func (c *Cache) Purge(ctx context.Context) error {
	if c.rdb == nil {
		return nil
	}
	if err := c.rdb.Del(ctx, SnapshotKey).Err(); err != nil {
		return fmt.Errorf("purge page snapshot: %w", err)
	}
	return nil
}

func (c *Cache) store(ctx context.Context, page *Page) error {
	raw, err := json.Marshal(page)
	if err != nil {
		return fmt.Errorf("encode page snapshot: %w", err)
	}
	return c.rdb.Set(ctx, SnapshotKey, raw, c.ttl).Err()
}
