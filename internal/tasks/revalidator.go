package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
)

// Enqueuer is the subset of *asynq.Client used here.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Purger drops the cached page, making the next request rebuild it.
type Purger interface {
	Purge(ctx context.Context) error
}

// CorrelationIDFunc extracts the request correlation id from ctx.
type CorrelationIDFunc func(ctx context.Context) string

// Revalidator schedules a page rebuild on the worker queue. When the queue is
// unreachable it purges the snapshot directly so stale content expires now.
type Revalidator struct {
	queue         Enqueuer
	purger        Purger
	correlationID CorrelationIDFunc
	logger        *slog.Logger
}

// NewRevalidator wires a Revalidator. queue and purger may be nil.
func NewRevalidator(queue Enqueuer, purger Purger, correlationID CorrelationIDFunc, logger *slog.Logger) *Revalidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Revalidator{queue: queue, purger: purger, correlationID: correlationID, logger: logger}
}

// Revalidate enqueues TypeSiteRevalidate. When a matching task is still
// pending or running, a follow-up rebuild is scheduled after the unique window.
func (r *Revalidator) Revalidate(ctx context.Context, reason string) error {
	var cid string
	if r.correlationID != nil {
		cid = r.correlationID(ctx)
	}

	if r.queue != nil {
		task, err := NewSiteRevalidateTask(reason, cid)
		if err != nil {
			return fmt.Errorf("build revalidate task: %w", err)
		}
		_, err = r.queue.EnqueueContext(ctx, task, asynq.Unique(revalidateUniqueTTL))
		if errors.Is(err, asynq.ErrDuplicateTask) {
			// The unique lock is held until the matching task finishes, so it may
			// already be building from rows read before this mutation committed.
			_, err = r.queue.EnqueueContext(ctx, task, asynq.ProcessIn(revalidateUniqueTTL))
		}
		if err == nil {
			return nil
		}
		r.logger.Warn("enqueue revalidate failed, purging snapshot",
			slog.String("reason", reason),
			slog.String("correlation_id", cid),
			slog.Any("error", err),
		)
	}

	if r.purger == nil {
		return errors.New("no revalidation backend configured")
	}
	return r.purger.Purge(ctx)
}
