package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/wastetrack/wastetrack/internal/bsd"
	"github.com/wastetrack/wastetrack/internal/observability"
)

type fakeProjector struct {
	calls []string
	err   error
}

func (f *fakeProjector) Reindex(_ context.Context, t bsd.Type, id string) error {
	f.calls = append(f.calls, string(t)+":"+id)
	return f.err
}

func TestReindexHandlerRoundTrip(t *testing.T) {
	projector := &fakeProjector{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := NewReindexHandler(projector, observability.NewMetrics(), logger)

	task, err := NewReindexTask(bsd.TypeBSDD, "BSD-1")
	require.NoError(t, err)
	require.Equal(t, TaskBsdReindex, task.Type())

	require.NoError(t, handler(context.Background(), task))
	require.Equal(t, []string{"BSDD:BSD-1"}, projector.calls)
}

func TestReindexHandlerRetriesOnFailure(t *testing.T) {
	projector := &fakeProjector{err: errors.New("index unavailable")}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := NewReindexHandler(projector, observability.NewMetrics(), logger)

	task, err := NewReindexTask(bsd.TypeBSFF, "BSD-2")
	require.NoError(t, err)

	err = handler(context.Background(), task)
	require.Error(t, err)
	require.NotErrorIs(t, err, asynq.SkipRetry, "transient failures must stay retryable")
}

func TestReindexHandlerDropsMalformedPayload(t *testing.T) {
	projector := &fakeProjector{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := NewReindexHandler(projector, observability.NewMetrics(), logger)

	err := handler(context.Background(), asynq.NewTask(TaskBsdReindex, []byte("{not json")))
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Empty(t, projector.calls)
}
