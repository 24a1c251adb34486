package main

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	httptransport "github.com/zacode/consultation-service/internal/api/http"
	"github.com/zacode/consultation-service/internal/api/http/handlers"
	"github.com/zacode/consultation-service/internal/auth"
	"github.com/zacode/consultation-service/internal/events"
	"github.com/zacode/consultation-service/internal/mailbox"
	"github.com/zacode/consultation-service/internal/persistence"
	"github.com/zacode/consultation-service/internal/repository"
	"github.com/zacode/consultation-service/internal/service"
	"github.com/zacode/consultation-service/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	rt, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer rt.close()
	cfg, logger := rt.cfg, rt.logger

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	dispatcher := events.NewInMemoryDispatcher(logger)
	rt.notifications.RegisterHandlers(dispatcher)

	if len(cfg.Kafka.Brokers) > 0 {
		publisher, err := events.NewKafkaPublisher(cfg.Kafka, logger, events.WithPublisherMetrics(rt.metrics))
		if err != nil {
			return err
		}
		defer publisher.Close() //nolint:errcheck
		publisher.Register(dispatcher)
		logger.Info("publishing events to kafka", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	consultationService := service.NewConsultationService(service.ConsultationDependencies{
		ConsultationRepo: rt.consultations,
		UserRepo:         rt.users,
		Dispatcher:       dispatcher,
		Logger:           logger,
		StoreTimeout:     cfg.Postgres.StoreTimeout,
	})

	var listener *mailbox.Listener
	switch {
	case noMailbox || !cfg.Mailbox.Enabled:
		logger.Info("mailbox listener disabled")
	case cfg.Mailbox.Validate() != nil:
		logger.Warn("mailbox listener not started", zap.Error(cfg.Mailbox.Validate()))
	default:
		replies := service.NewReplyService(service.ReplyDependencies{
			Correlator:       service.NewTicketCorrelator(rt.consultations, rt.users, logger),
			ConsultationRepo: rt.consultations,
			Ledger:           repository.NewProcessedLedger(redis.Client, cfg.Redis.KeyPrefix, cfg.Redis.ProcessedTTL),
			Dispatcher:       dispatcher,
			Logger:           logger,
			Metrics:          rt.metrics,
			StoreTimeout:     cfg.Postgres.StoreTimeout,
		})
		listener = mailbox.NewListener(cfg.Mailbox, replies, logger, mailbox.WithMetrics(rt.metrics))
	}

	sweeper, err := worker.NewNotificationSweeper(rt.notifications, cfg.Notification, logger)
	if err != nil {
		return err
	}

	var listenerStatus handlers.ListenerStatus
	if listener != nil {
		listenerStatus = listener
	}

	app := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		DisableStartupMessage: true,
	})
	httptransport.RegisterMiddlewares(app, logger, rt.metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, rt.pg, redis, listenerStatus),
		Consultations:  handlers.NewConsultationsHandler(consultationService),
		Metrics:        promhttp.Handler(),
		AuthMiddleware: auth.NewAuthMiddleware(auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes), rt.users),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", cfg.App.Addr()))
		return app.Listen(cfg.App.Addr())
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})
	if listener != nil {
		g.Go(func() error {
			return listener.Run(gctx)
		})
	}
	g.Go(func() error {
		return sweeper.Run(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
