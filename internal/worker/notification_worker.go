package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/zacode/consultation-service/internal/config"
	"github.com/zacode/consultation-service/internal/service"
)

type pendingSweeper interface {
	SweepPendingResponses(ctx context.Context, minAge time.Duration, batch int) (service.SweepResult, error)
}

// NotificationSweeper periodically resends response notices whose delivery failed.
type NotificationSweeper struct {
	svc      pendingSweeper
	cfg      config.NotificationConfig
	logger   *zap.Logger
	schedule cron.Schedule
}

// NewNotificationSweeper validates the cron schedule in cfg.
func NewNotificationSweeper(svc pendingSweeper, cfg config.NotificationConfig, logger *zap.Logger) (*NotificationSweeper, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(cfg.SweepSchedule)
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", cfg.SweepSchedule, err)
	}
	return &NotificationSweeper{
		svc:      svc,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "notification_sweeper")),
		schedule: schedule,
	}, nil
}

// RunOnce performs a single sweep.
func (w *NotificationSweeper) RunOnce(ctx context.Context) (service.SweepResult, error) {
	start := time.Now()
	result, err := w.svc.SweepPendingResponses(ctx, w.cfg.SweepMinAge, w.cfg.SweepBatch)
	if err != nil {
		w.logger.Error("notification sweep failed", zap.Error(err))
		return result, err
	}
	if result.Pending > 0 {
		w.logger.Info("notification sweep finished",
			zap.Int("pending", result.Pending),
			zap.Int("sent", result.Sent),
			zap.Int("failed", result.Failed),
			zap.Duration("elapsed", time.Since(start)))
	}
	return result, nil
}

// Run schedules sweeps until ctx is done. Overlapping runs are skipped.
func (w *NotificationSweeper) Run(ctx context.Context) error {
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	c.Schedule(w.schedule, cron.FuncJob(func() {
		_, _ = w.RunOnce(ctx)
	}))
	c.Start()
	w.logger.Info("notification sweeper started", zap.String("schedule", w.cfg.SweepSchedule))

	<-ctx.Done()
	<-c.Stop().Done()
	w.logger.Info("notification sweeper stopped")
	return nil
}
