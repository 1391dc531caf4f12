// Package main is the long-running escalation scheduler. It drives the tick
// loop and, when enabled, serves the operator admin API on the same process.
//
// Startup:
//  1. Load configuration (env + optional .env).
//  2. Connect to PostgreSQL and the AWS clients the config asks for.
//  3. Assemble the engine (internal/app).
//  4. Start the tick driver and the admin HTTP server.
//
// SIGINT/SIGTERM stops the tick loop, lets in-flight job bodies finish the
// tenant they are on, then drains HTTP connections.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"escalator/internal/app"
	"escalator/internal/config"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := app.NewLogger(cfg.LogLevel)
	logger.Info("escalation scheduler starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, closeDeps, err := app.Connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeDeps()

	a, err := app.New(cfg, deps)
	if err != nil {
		return fmt.Errorf("assembling engine: %w", err)
	}

	return serve(ctx, a, logger)
}

// serve runs the tick driver and the admin server until ctx is cancelled or
// the HTTP listener fails.
func serve(ctx context.Context, a *app.App, logger *slog.Logger) error {
	a.Driver.Start(ctx)

	var httpServer *http.Server
	serverErr := make(chan error, 1)
	if a.Server != nil {
		httpServer = &http.Server{
			Addr:              a.Config.Admin.ListenAddr,
			Handler:           a.Server.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			// Manual runs are synchronous and can take a while.
			WriteTimeout: 10 * time.Minute,
			IdleTimeout:  120 * time.Second,
		}
		go func() {
			logger.Info("admin server listening", "addr", httpServer.Addr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
			close(serverErr)
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err, ok := <-serverErr:
		if ok && err != nil {
			runErr = fmt.Errorf("admin server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("admin server shutdown error", "error", err)
		}
	}

	stopped := make(chan struct{})
	go func() {
		a.Driver.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		logger.Info("scheduler stopped cleanly")
	case <-shutdownCtx.Done():
		logger.Error("job bodies did not finish before the shutdown deadline")
		if runErr == nil {
			runErr = fmt.Errorf("shutdown: %w", shutdownCtx.Err())
		}
	}
	return runErr
}
