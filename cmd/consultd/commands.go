package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zacode/consultation-service/internal/auth"
	"github.com/zacode/consultation-service/internal/config"
	"github.com/zacode/consultation-service/internal/domain"
	"github.com/zacode/consultation-service/internal/observability"
	"github.com/zacode/consultation-service/internal/persistence"
	"github.com/zacode/consultation-service/internal/worker"
)

func runMigrate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return fmt.Errorf("failed to connect postgres: %w", err)
	}
	defer pg.Close()

	return persistence.RunMigrations(ctx, pg.PoolHandle(), logger)
}

func runSweep(cmd *cobra.Command, _ []string) error {
	rt, err := bootstrap(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.close()

	sweeper, err := worker.NewNotificationSweeper(rt.notifications, rt.cfg.Notification, rt.logger)
	if err != nil {
		return err
	}
	result, err := sweeper.RunOnce(cmd.Context())
	if err != nil {
		return err
	}
	rt.logger.Info("sweep complete",
		zap.Int("pending", result.Pending),
		zap.Int("sent", result.Sent),
		zap.Int("failed", result.Failed))
	return nil
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	subject := domain.SubjectTypeUser
	if tokenAdmin {
		subject = domain.SubjectTypeAdmin
	}
	token, expiresAt, err := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes).GenerateToken(args[0], subject)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expiresAt.UTC().Format(time.RFC3339))
	return nil
}
