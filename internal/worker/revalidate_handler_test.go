package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memorial/internal/board"
	"memorial/internal/errcode"
	"memorial/internal/site"
	"memorial/internal/tasks"
)

type fakePages struct {
	err     error
	refresh int
	purged  int
}

func (f *fakePages) Refresh(context.Context) (*site.Page, error) {
	f.refresh++
	if f.err != nil {
		return nil, f.err
	}
	return &site.Page{Title: site.HeroTitle}, nil
}

func (f *fakePages) Purge(context.Context) error {
	f.purged++
	return nil
}

type fakePublisher struct {
	channels []string
	messages []board.Broadcast
}

func (f *fakePublisher) Publish(_ context.Context, channel string, message interface{}) *redis.IntCmd {
	f.channels = append(f.channels, channel)
	msg, err := board.DecodeBroadcast(message.([]byte))
	if err != nil {
		return redis.NewIntResult(0, err)
	}
	f.messages = append(f.messages, msg)
	return redis.NewIntResult(1, nil)
}

func newHandler(pages *fakePages, pub *fakePublisher) *RevalidateHandler {
	return NewRevalidateHandler(pages, pub, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRevalidateHandler_Success(t *testing.T) {
	pages := &fakePages{}
	pub := &fakePublisher{}

	task, err := tasks.NewSiteRevalidateTask("character moved", "cid-1")
	require.NoError(t, err)

	require.NoError(t, newHandler(pages, pub).ProcessTask(context.Background(), task))
	assert.Equal(t, 1, pages.refresh)
	assert.Equal(t, []string{board.EventsChannel}, pub.channels)
	require.Len(t, pub.messages, 1)
	assert.Equal(t, board.BroadcastRevalidated, pub.messages[0].Type)
	assert.Equal(t, "cid-1", pub.messages[0].CorrelationID)
}

func TestRevalidateHandler_BadPayloadSkipsRetry(t *testing.T) {
	err := newHandler(&fakePages{}, nil).ProcessTask(context.Background(), asynq.NewTask(tasks.TypeSiteRevalidate, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestRevalidateHandler_FailureBeforeFinalAttempt(t *testing.T) {
	pages := &fakePages{err: errors.New("redis down")}
	pub := &fakePublisher{}

	task, err := tasks.NewSiteRevalidateTask("history updated", "cid-2")
	require.NoError(t, err)

	err = newHandler(pages, pub).ProcessTask(context.Background(), task)
	assert.Error(t, err)
	// Retry metadata is absent outside the asynq server, so this is not final.
	assert.Zero(t, pages.purged)
	assert.Empty(t, pub.messages)
}

func TestPublishBroadcast_ErrorFrame(t *testing.T) {
	pub := &fakePublisher{}
	require.NoError(t, publishBroadcast(context.Background(), pub, board.Broadcast{
		Type:         board.BroadcastError,
		ErrorCode:    errcode.SystemError,
		ErrorMessage: "boom",
	}))
	require.Len(t, pub.messages, 1)
	assert.Equal(t, errcode.SystemError, pub.messages[0].ErrorCode)
}
