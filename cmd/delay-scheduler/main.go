// Package main is the long-running smart-delay scheduler.
//
// It loads configuration, connects to Postgres, and runs two things side by
// side until SIGINT or SIGTERM: the tick loop, which evaluates due trips every
// SMART_DELAY_TICK_INTERVAL, and the ops HTTP server (health, manual tick,
// trip and token registration).
//
// Shutdown cancels the loop, drains the HTTP server within ten seconds, and
// closes the database pool.
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

	"smartdelay/internal/app"
	"smartdelay/internal/config"
	"smartdelay/internal/core"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL")))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := app.NewLogger(cfg)
	logger.Info("smart-delay scheduler starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
		"tick_interval", cfg.SmartDelay.TickInterval,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	srv, err := a.OpsServer()
	if err != nil {
		return fmt.Errorf("creating ops server: %w", err)
	}

	loopDone := make(chan error, 1)
	go func() {
		loopDone <- a.Scheduler.Run(ctx)
	}()

	httpErr := runHTTPServer(ctx, srv, cfg, logger)

	// The HTTP server only returns early on a listen failure; stop the loop
	// in that case too.
	stop()
	if err := <-loopDone; err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("tick loop stopped with error", "error", err)
	}

	if httpErr != nil {
		return httpErr
	}
	logger.Info("scheduler stopped cleanly")
	return nil
}

// runHTTPServer serves the ops API until ctx is cancelled, then shuts it
// down gracefully.
func runHTTPServer(ctx context.Context, srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// A manual tick runs synchronously and may take a while.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("ops server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("ops server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("ops server shutdown error", "error", err)
		return fmt.Errorf("ops server shutdown: %w", err)
	}
	return nil
}
