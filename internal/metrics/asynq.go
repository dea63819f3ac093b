package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Task outcomes.
const (
	TaskOK      = "ok"
	TaskRetry   = "retry"
	TaskFailed  = "failed"
	TaskSkipped = "skipped"
)

var (
	tasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memorial",
			Subsystem: "worker",
			Name:      "tasks_total",
			Help:      "Worker tasks handled, by type and outcome.",
		},
		[]string{"task_type", "outcome"},
	)

	taskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "memorial",
			Subsystem: "worker",
			Name:      "task_duration_seconds",
			Help:      "Time spent per task attempt, including page rebuilds.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"task_type"},
	)
)

// taskOutcome distinguishes an attempt that will be retried from the last
// one. Outside a worker the retry counters are absent and a failure is final.
func taskOutcome(ctx context.Context, err error) string {
	switch {
	case err == nil:
		return TaskOK
	case errors.Is(err, asynq.SkipRetry):
		return TaskSkipped
	}
	retried, ok1 := asynq.GetRetryCount(ctx)
	maxRetry, ok2 := asynq.GetMaxRetry(ctx)
	if ok1 && ok2 && retried < maxRetry {
		return TaskRetry
	}
	return TaskFailed
}

// AsynqMetricsMiddleware records duration and outcome of every task attempt.
func AsynqMetricsMiddleware() asynq.MiddlewareFunc {
	return func(next asynq.Handler) asynq.Handler {
		return asynq.HandlerFunc(func(ctx context.Context, task *asynq.Task) error {
			start := time.Now()
			err := next.ProcessTask(ctx, task)
			taskDuration.WithLabelValues(task.Type()).Observe(time.Since(start).Seconds())
			tasksTotal.WithLabelValues(task.Type(), taskOutcome(ctx, err)).Inc()
			return err
		})
	}
}
