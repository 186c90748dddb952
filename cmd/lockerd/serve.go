package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/spf13/cobra"

	"locker-kiosk-backend/config"
	"locker-kiosk-backend/internal/api"
	"locker-kiosk-backend/internal/hardware"
	"locker-kiosk-backend/internal/locker"
	"locker-kiosk-backend/internal/logging"
	"locker-kiosk-backend/internal/notification"
	"locker-kiosk-backend/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the kiosk HTTP API",
	Long: `Run the kiosk HTTP API. The locker table is reconciled against the
controller once at startup; if the controller is unreachable the service
starts degraded on the last stored records.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return serve(cfg)
	},
}

func webpushOptions(cfg config.PushConfig) *webpush.Options {
	if !cfg.Enabled() {
		return nil
	}
	return &webpush.Options{
		VAPIDPublicKey:  cfg.PublicKey,
		VAPIDPrivateKey: cfg.PrivateKey,
		Subscriber:      cfg.Subject,
		TTL:             cfg.TTL,
	}
}

func serve(cfg *config.Config) error {
	logger := logging.WithComponent("lockerd")

	st, err := store.Open(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Storage.Driver, err)
	}
	defer st.Close()
	logger.Info().Str("driver", cfg.Storage.Driver).Msg("record store opened")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	push := webpushOptions(cfg.Push)
	if push == nil {
		logger.Warn().Msg("VAPID keys not configured, pickup codes will not be pushed")
	}
	pool := notification.NewWorkerPool(cfg.WorkerPool.Size, st, push)
	pool.Start(ctx)

	hw := hardware.NewClient(cfg.Hardware)
	table := locker.NewTable(st, hw, locker.WithNotifier(pool))
	defer table.Close()

	result, err := table.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("initial reconcile: %w", err)
	}
	if result.Degraded {
		logger.Warn().Strs("warnings", result.Warnings).Msg("starting with unverified locker state")
	} else {
		logger.Info().Int("lockers", len(result.Lockers)).Msg("locker table reconciled")
	}

	handler := api.NewHandler(table, st, hw, push, cfg.Admin)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: api.NewRouter(handler, cfg.Server),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Int("port", cfg.Server.Port).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info().Msg("shutdown signal received, stopping services")
	case err := <-errCh:
		return fmt.Errorf("HTTP server: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown: %w", err)
	}
	logger.Info().Msg("server gracefully stopped")
	return nil
}
