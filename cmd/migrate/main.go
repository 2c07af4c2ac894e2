// Package main applies the embedded database migrations.
//
// Usage:
//
//	migrate [command] [args...]
//
// command is any goose command ("up", "down", "status", "version",
// "up-to 3", ...) and defaults to "up". DATABASE_URL is read the same way
// as by the scheduler, including *_SSM_PARAM resolution outside local.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"smartdelay/internal/app"
	"smartdelay/internal/config"
	"smartdelay/internal/db"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	command, rest := parseArgs(args)

	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL")))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	logger := app.NewLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("running migrations", "command", command, "args", rest)
	if err := db.Migrate(ctx, cfg.Database.URL.Unmask(), command, rest...); err != nil {
		return err
	}
	logger.Info("migrations finished", "command", command)
	return nil
}

// parseArgs splits the goose command from its arguments.
func parseArgs(args []string) (string, []string) {
	if len(args) == 0 {
		return "up", nil
	}
	return args[0], args[1:]
}
