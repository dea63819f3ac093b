package worker

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"memorial/internal/board"
)

// Publisher is the subset of *redis.Client used to notify board connections.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

func publishBroadcast(ctx context.Context, pub Publisher, msg board.Broadcast) error {
	data, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}
	if err := pub.Publish(ctx, board.EventsChannel, data).Err(); err != nil {
		return fmt.Errorf("publish redis notification to %q: %w", board.EventsChannel, err)
	}
	return nil
}
