package tasks

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueue struct {
	tasks []*asynq.Task
	opts  [][]asynq.Option
	errs  []error
}

func (f *fakeQueue) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, task)
	f.opts = append(f.opts, opts)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

func optionOf(opts []asynq.Option, typ asynq.OptionType) (asynq.Option, bool) {
	for _, o := range opts {
		if o.Type() == typ {
			return o, true
		}
	}
	return nil, false
}

type fakePurger struct{ purged int }

func (f *fakePurger) Purge(context.Context) error {
	f.purged++
	return nil
}

type ctxKey struct{}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestRevalidate_Enqueues(t *testing.T) {
	q := &fakeQueue{}
	p := &fakePurger{}
	cid := func(ctx context.Context) string { s, _ := ctx.Value(ctxKey{}).(string); return s }
	r := NewRevalidator(q, p, cid, quiet())

	ctx := context.WithValue(context.Background(), ctxKey{}, "abc-123")
	require.NoError(t, r.Revalidate(ctx, "character created"))

	require.Len(t, q.tasks, 1)
	assert.Equal(t, TypeSiteRevalidate, q.tasks[0].Type())
	payload, err := ParseSiteRevalidatePayload(q.tasks[0])
	require.NoError(t, err)
	assert.Equal(t, SiteRevalidatePayload{Reason: "character created", CorrelationID: "abc-123"}, payload)
	assert.Zero(t, p.purged)
}

func TestRevalidate_DuplicateSchedulesFollowUp(t *testing.T) {
	q := &fakeQueue{errs: []error{asynq.ErrDuplicateTask, nil}}
	p := &fakePurger{}
	r := NewRevalidator(q, p, nil, quiet())

	require.NoError(t, r.Revalidate(context.Background(), "character moved"))

	require.Len(t, q.tasks, 2)
	_, unique := optionOf(q.opts[0], asynq.UniqueOpt)
	assert.True(t, unique, "first enqueue coalesces bursts")

	delay, ok := optionOf(q.opts[1], asynq.ProcessInOpt)
	require.True(t, ok, "duplicate must schedule a follow-up rebuild")
	assert.Equal(t, revalidateUniqueTTL, delay.Value())
	_, unique = optionOf(q.opts[1], asynq.UniqueOpt)
	assert.False(t, unique)

	payload, err := ParseSiteRevalidatePayload(q.tasks[1])
	require.NoError(t, err)
	assert.Equal(t, "character moved", payload.Reason)
	assert.Zero(t, p.purged)
}

func TestRevalidate_FollowUpFailureFallsBackToPurge(t *testing.T) {
	q := &fakeQueue{errs: []error{asynq.ErrDuplicateTask, errors.New("redis: connection refused")}}
	p := &fakePurger{}
	r := NewRevalidator(q, p, nil, quiet())

	require.NoError(t, r.Revalidate(context.Background(), "character moved"))
	assert.Len(t, q.tasks, 2)
	assert.Equal(t, 1, p.purged)
}

func TestRevalidate_FallsBackToPurge(t *testing.T) {
	q := &fakeQueue{errs: []error{errors.New("redis: connection refused")}}
	p := &fakePurger{}
	r := NewRevalidator(q, p, nil, quiet())

	require.NoError(t, r.Revalidate(context.Background(), "history updated"))
	assert.Equal(t, 1, p.purged)
}

func TestRevalidate_PurgeOnlyAndNothing(t *testing.T) {
	p := &fakePurger{}
	require.NoError(t, NewRevalidator(nil, p, nil, quiet()).Revalidate(context.Background(), "x"))
	assert.Equal(t, 1, p.purged)

	assert.Error(t, NewRevalidator(nil, nil, nil, quiet()).Revalidate(context.Background(), "x"))
}
