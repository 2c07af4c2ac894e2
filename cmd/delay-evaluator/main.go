// Package main is the Lambda entrypoint for the smart-delay scheduler.
//
// An EventBridge schedule invokes it once per tick interval with a
// scheduler.TickPayload. Each invocation runs exactly one tick; the tick
// lock in job_locks keeps overlapping invocations from evaluating the same
// slot twice.
//
// With APP_ENV=local the event is read from stdin instead of the Lambda
// runtime:
//
//	echo '{"reference_time":"2026-03-01T09:00:00Z"}' | go run ./cmd/delay-evaluator
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"

	"smartdelay/internal/app"
	"smartdelay/internal/config"
	"smartdelay/internal/scheduler"
)

// TickRunner runs one scheduler tick.
type TickRunner interface {
	Tick(ctx context.Context, now time.Time) (scheduler.TickResult, error)
}

// Handler adapts the scheduler to the Lambda invocation model. It is built
// once per cold start and reused across invocations.
type Handler struct {
	Ticker TickRunner
	Clock  func() time.Time
	Logger *slog.Logger
}

// Handle runs one tick. Per-trip failures are logged and reported in the
// result; only a tick that could not run at all fails the invocation, so
// EventBridge does not retry a tick that already sent alerts.
func (h *Handler) Handle(ctx context.Context, payload scheduler.TickPayload) (scheduler.TickResult, error) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := time.Now().UTC()
	if h.Clock != nil {
		now = h.Clock().UTC()
	}
	if payload.ReferenceTime != nil {
		now = payload.ReferenceTime.UTC()
	}

	logger.InfoContext(ctx, "evaluator invoked", "reference_time", now.Format(time.RFC3339))

	result, err := h.Ticker.Tick(ctx, now)
	if err != nil {
		if len(result.Errors) == 0 {
			logger.ErrorContext(ctx, "tick failed", "error", err)
			return result, fmt.Errorf("tick at %s: %w", now.Format(time.RFC3339), err)
		}
		for _, tripErr := range result.Errors {
			logger.WarnContext(ctx, "trip evaluation error", "error", tripErr)
		}
	}
	return result, nil
}

// handleLocal reads a single event from r and runs it through h.
func handleLocal(ctx context.Context, h *Handler, r io.Reader) (scheduler.TickResult, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return scheduler.TickResult{}, fmt.Errorf("reading stdin: %w", err)
	}
	var payload scheduler.TickPayload
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &payload); err != nil {
			return scheduler.TickResult{}, fmt.Errorf("decoding event: %w", err)
		}
	}
	return h.Handle(ctx, payload)
}

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
	logger.Info("delay evaluator initializing (cold start)",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
	)

	ctx := context.Background()
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	h := &Handler{Ticker: a.Scheduler, Logger: logger}

	if cfg.Environment == "local" {
		logger.Info("APP_ENV=local: reading event from stdin")
		result, err := handleLocal(ctx, h, os.Stdin)
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding tick result: %w", err)
		}
		fmt.Println(string(out))
		return nil
	}

	lambda.Start(h.Handle)
	return nil
}
