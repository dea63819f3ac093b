package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"memorial/internal/board"
	"memorial/internal/errcode"
	"memorial/internal/site"
	"memorial/internal/tasks"
)

// PageRefresher rebuilds and stores the public page snapshot.
type PageRefresher interface {
	Refresh(ctx context.Context) (*site.Page, error)
	Purge(ctx context.Context) error
}

// RevalidateHandler consumes site revalidation tasks.
type RevalidateHandler struct {
	pages     PageRefresher
	publisher Publisher
	logger    *slog.Logger
}

// NewRevalidateHandler creates the task handler. publisher may be nil.
func NewRevalidateHandler(pages PageRefresher, publisher Publisher, logger *slog.Logger) *RevalidateHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RevalidateHandler{pages: pages, publisher: publisher, logger: logger}
}

// ProcessTask implements asynq.Handler.
func (h *RevalidateHandler) ProcessTask(ctx context.Context, t *asynq.Task) (retErr error) {
	payload, err := tasks.ParseSiteRevalidatePayload(t)
	if err != nil {
		h.logger.Error("unmarshal revalidate payload failed", slog.Any("error", err))
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	log := h.logger.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.String("reason", payload.Reason),
	)
	start := time.Now()

	defer func() {
		if retErr == nil || !isFinalAsynqAttempt(ctx) {
			return
		}
		// Out of retries: make sure nobody keeps reading the stale snapshot.
		if err := h.pages.Purge(ctx); err != nil {
			log.Error("purge page snapshot failed", slog.Any("error", err))
		}
		h.notify(ctx, log, board.Broadcast{
			Type:          board.BroadcastError,
			CorrelationID: payload.CorrelationID,
			ErrorCode:     errcode.SystemError,
			ErrorMessage:  strings.TrimSpace(retErr.Error()),
		})
	}()

	page, err := h.pages.Refresh(ctx)
	if err != nil {
		log.Error("refresh page snapshot failed", slog.Any("error", err))
		return err
	}

	log.Info("page snapshot rebuilt",
		slog.Int("characters", len(page.Characters)),
		slog.Bool("has_history", page.History != nil),
		slog.Duration("took", time.Since(start)),
	)
	h.notify(ctx, log, board.Broadcast{
		Type:          board.BroadcastRevalidated,
		CorrelationID: payload.CorrelationID,
	})
	return nil
}

func (h *RevalidateHandler) notify(ctx context.Context, log *slog.Logger, msg board.Broadcast) {
	if h.publisher == nil {
		return
	}
	if err := publishBroadcast(ctx, h.publisher, msg); err != nil {
		log.Warn("publish board notification failed", slog.Any("error", err))
	}
}

func isFinalAsynqAttempt(ctx context.Context) bool {
	retryCount, ok1 := asynq.GetRetryCount(ctx)
	maxRetry, ok2 := asynq.GetMaxRetry(ctx)
	if !ok1 || !ok2 {
		return false
	}
	return retryCount >= maxRetry
}
