package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zacode/consultation-service/internal/config"
	"github.com/zacode/consultation-service/internal/service"
)

type fakeSweeper struct {
	calls  atomic.Int32
	minAge time.Duration
	batch  int
	err    error
}

func (f *fakeSweeper) SweepPendingResponses(_ context.Context, minAge time.Duration, batch int) (service.SweepResult, error) {
	f.calls.Add(1)
	f.minAge = minAge
	f.batch = batch
	return service.SweepResult{Pending: 2, Sent: 1, Failed: 1}, f.err
}

func TestRunOncePassesConfig(t *testing.T) {
	fake := &fakeSweeper{}
	w, err := NewNotificationSweeper(fake, config.NotificationConfig{
		SweepSchedule: "@every 5m",
		SweepMinAge:   2 * time.Minute,
		SweepBatch:    25,
	}, zap.NewNop())
	require.NoError(t, err)

	result, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.Sent)
	require.Equal(t, 2*time.Minute, fake.minAge)
	require.Equal(t, 25, fake.batch)
}

func TestRunOnceReturnsErrors(t *testing.T) {
	fake := &fakeSweeper{err: errors.New("db down")}
	w, err := NewNotificationSweeper(fake, config.NotificationConfig{SweepSchedule: "*/5 * * * *"}, nil)
	require.NoError(t, err)
	_, err = w.RunOnce(context.Background())
	require.Error(t, err)
}

func TestInvalidSchedule(t *testing.T) {
	_, err := NewNotificationSweeper(&fakeSweeper{}, config.NotificationConfig{SweepSchedule: "every now and then"}, nil)
	require.Error(t, err)
}

func TestRunSweepsOnSchedule(t *testing.T) {
	fake := &fakeSweeper{}
	w, err := NewNotificationSweeper(fake, config.NotificationConfig{SweepSchedule: "@every 1s"}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return fake.calls.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}
