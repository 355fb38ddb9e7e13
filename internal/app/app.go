// Package app wires up and runs the application services.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/skobkin/commandstate/internal/config"
	"github.com/skobkin/commandstate/internal/engine"
	"github.com/skobkin/commandstate/internal/httpserver"
)

const shutdownTimeout = 10 * time.Second

// Run bootstraps the application lifecycle.
func Run(ctx context.Context, baseLogger *slog.Logger, cfg config.Config) error {
	appLogger := baseLogger.With("component", "app")

	eng, err := engine.New(engine.Options{
		RefreshInterval:  cfg.RefreshInterval,
		HighCPUThreshold: cfg.HighCPUThreshold,
		HighMemThreshold: cfg.HighMemThreshold,
	}, baseLogger)
	if err != nil {
		return fmt.Errorf("init engine: %w", err)
	}

	if eng.CurrentUser() == "" {
		appLogger.Warn("current user unresolved, user filter will match nothing")
	}
	if cfg.DefaultsFile != "" {
		appLogger.Info("loaded defaults file", "path", cfg.DefaultsFile)
	}

	engineCtx, engineCancel := context.WithCancel(ctx)
	defer engineCancel()

	engineErrCh := make(chan error, 1)
	go func() {
		engineErrCh <- eng.Run(engineCtx)
	}()

	srv := httpserver.New(cfg, baseLogger.With("component", "http"), eng)

	appLogger.Info("starting HTTP server",
		"listen_addr", cfg.ListenAddr,
		"refresh_interval", cfg.RefreshInterval,
		"default_query", fmt.Sprintf("%s/%s/%s", cfg.DefaultQuery.Filter, cfg.DefaultQuery.SortBy, cfg.DefaultQuery.Direction),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	for {
		select {
		case err := <-errCh:
			engineCancel()
			if err != nil {
				return err
			}
			if engineErrCh != nil {
				if engineErr := <-engineErrCh; engineErr != nil && !errors.Is(engineErr, context.Canceled) {
					return engineErr
				}
			}
			return nil
		case err := <-engineErrCh:
			engineErrCh = nil
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
		case <-ctx.Done():
			appLogger.Info("shutdown initiated", "reason", ctx.Err())

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("http shutdown: %w", err)
			}

			if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}

			engineCancel()
			if engineErrCh != nil {
				if engineErr := <-engineErrCh; engineErr != nil && !errors.Is(engineErr, context.Canceled) {
					return engineErr
				}
			}

			appLogger.Info("shutdown complete")
			return nil
		}
	}
}
