package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"hostel-payments/db"
	httpHandler "hostel-payments/internal/adapter/http/handler"
	"hostel-payments/internal/service"

	"github.com/spf13/cobra"
)

var migrateOnStart bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API, webhook receiver and reconciliation scheduler",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&migrateOnStart, "migrate", false, "apply pending migrations before serving")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Str("storage", cfg.Storage.Driver).
		Msg("starting hostel payment gateway")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if migrateOnStart && cfg.Storage.Driver == "postgres" {
		if err := db.Migrate(ctx, cfg.Database.DSN(), false, log); err != nil {
			return err
		}
	}

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	a.dispatcher.Start(ctx)
	defer a.dispatcher.Stop()

	if cfg.Reconciliation.Enabled {
		scheduler, err := service.NewReconciliationScheduler(a.reconciliation, cfg.Reconciliation.Schedule, cfg.Reconciliation.Timezone, log)
		if err != nil {
			return err
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	if cfg.Refunds.SweepSchedule != "" {
		sweeper, err := service.NewRefundClaimSweeper(a.refunds, cfg.Refunds.SweepSchedule, log)
		if err != nil {
			return err
		}
		sweeper.Start()
		defer sweeper.Stop()
	}

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		OrderSvc:          a.orders,
		VerificationSvc:   a.verifier,
		WebhookProcessor:  a.webhooks,
		RefundSvc:         a.refunds,
		ReconciliationSvc: a.reconciliation,
		ReportingSvc:      a.reporting,
		TokenSvc:          a.tokens,
		RefundRoles:       cfg.Auth.RefundRoles,
		RateLimitStore:    a.rateLimits,
		HealthCheckers:    a.health,
		AuditSvc:          a.audit,
		Mode:              cfg.Server.Mode,
		Logger:            log,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}
	log.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exited")
	return nil
}
