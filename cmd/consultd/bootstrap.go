package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/zacode/consultation-service/internal/config"
	"github.com/zacode/consultation-service/internal/mailrelay"
	"github.com/zacode/consultation-service/internal/observability"
	"github.com/zacode/consultation-service/internal/persistence"
	"github.com/zacode/consultation-service/internal/repository"
	"github.com/zacode/consultation-service/internal/service"
)

// services holds the collaborators shared by every subcommand.
type services struct {
	cfg           *config.Config
	logger        *zap.Logger
	metrics       *observability.Metrics
	pg            *persistence.Postgres
	consultations repository.ConsultationRepository
	users         repository.UserRepository
	notifications *service.NotificationService
}

func bootstrap(ctx context.Context) (*services, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if version != "dev" {
		cfg.App.Version = version
		cfg.Logger.Version = version
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect postgres: %w", err)
	}

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			pg.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	pool := pg.PoolHandle()
	rt := &services{
		cfg:           cfg,
		logger:        logger,
		metrics:       observability.NewMetrics(prometheus.DefaultRegisterer),
		pg:            pg,
		consultations: repository.NewConsultationRepository(pool),
		users:         repository.NewUserRepository(pool),
	}

	relay, err := mailrelay.New(cfg.Relay, cfg.App.PublicURL, mailrelay.NewSendGridSender(cfg.Relay.APIKey), logger)
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("failed to init mail relay: %w", err)
	}
	rt.notifications = service.NewNotificationService(service.NotificationDependencies{
		Mailer:           relay,
		ConsultationRepo: rt.consultations,
		UserRepo:         rt.users,
		Logger:           logger,
		Metrics:          rt.metrics,
		StoreTimeout:     cfg.Postgres.StoreTimeout,
	})
	return rt, nil
}

func (rt *services) close() {
	rt.pg.Close()
	_ = rt.logger.Sync()
}
