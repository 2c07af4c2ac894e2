// Package app assembles the smart-delay process from configuration: the
// database pool and repositories, the entitlement gate, the outbound clients,
// the notification dispatcher, outcome metrics, and the scheduler. Both the
// long-running daemon and the Lambda entrypoint build their dependencies here.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"smartdelay/internal/billing"
	"smartdelay/internal/config"
	"smartdelay/internal/core"
	"smartdelay/internal/db"
	"smartdelay/internal/external"
	"smartdelay/internal/notifications/push"
	"smartdelay/internal/scheduler"
	"smartdelay/internal/types"
)

// Database is what the repositories and the outcome store need.
// *pgxpool.Pool satisfies it.
type Database interface {
	db.DBTX
	db.TxBeginner
}

// App is the assembled process.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Scheduler *scheduler.Scheduler
	Clients   *external.ClientRegistry

	Trips         *db.TripRepository
	Tokens        *db.PushTokenRepository
	Notifications *db.NotificationRepository
	Subscriptions *db.SubscriptionRepo
	History       *db.JobHistoryRepository

	database Database
	closeFn  func()
}

// NewLogger creates the JSON logger every binary writes to stdout.
func NewLogger(cfg *config.Config) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     cfg.SlogLevel(),
		AddSource: false,
	})
	return slog.New(handler).With("service", cfg.Service)
}

// New connects to the database and assembles the process.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:      cfg.Database.URL.Unmask(),
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	metrics, err := NewOutcomeMetrics(ctx, cfg, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}

	a, err := Assemble(cfg, pool, metrics, types.RealClock{}, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	a.closeFn = pool.Close
	return a, nil
}

// Assemble wires every component on top of an open database.
func Assemble(cfg *config.Config, database Database, metrics scheduler.OutcomeMetrics, clock types.Clock, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	trips := db.NewTripRepository(database)
	tokens := db.NewPushTokenRepository(database)
	notifications := db.NewNotificationRepository(database)
	subscriptions := db.NewSubscriptionRepo(database, logger)
	history := db.NewJobHistoryRepository(database)

	entitlements := billing.NewEntitlementService(billing.EntitlementConfig{
		Subscriptions: subscriptions,
		Plans:         billing.NewStaticPlanRegistry(),
		Clock:         clock,
		Logger:        logger,
	})

	clients := external.NewClientRegistry(cfg, logger)
	dispatcher := push.NewDispatcher(push.Config{
		Transport: clients.Push,
		Logger:    logger.With("component", "dispatcher"),
	})

	sched, err := scheduler.New(scheduler.Config{
		Trips:         trips,
		Entitlements:  entitlements,
		Notifications: notifications,
		Tokens:        tokens,
		Forecasts:     clients.Forecast,
		Dispatcher:    dispatcher,
		Outcomes:      db.NewOutcomeStore(database),
		Locks:         db.NewJobLockRepository(database),
		History:       history,
		Metrics:       metrics,
		Settings:      cfg.SchedulerSettings(),
		Clock:         clock,
		Logger:        logger.With("component", "scheduler"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating scheduler: %w", err)
	}

	return &App{
		Config:        cfg,
		Logger:        logger,
		Scheduler:     sched,
		Clients:       clients,
		Trips:         trips,
		Tokens:        tokens,
		Notifications: notifications,
		Subscriptions: subscriptions,
		History:       history,
		database:      database,
	}, nil
}

// OpsServer builds the ops HTTP API on top of the assembled components.
// /health pings the database when it supports Ping.
func (a *App) OpsServer() (*core.Server, error) {
	var probes []core.HealthProbe
	if p, ok := a.database.(core.Pinger); ok {
		probes = append(probes, core.PingProbe{Component: "database", Target: p})
	}
	return core.NewServer(core.Config{
		Ticker:        a.Scheduler,
		Notifications: a.Notifications,
		Trips:         a.Trips,
		Tokens:        a.Tokens,
		Subscriptions: a.Subscriptions,
		History:       a.History,
		Probes:        probes,
		AdminAPIKey:   a.Config.Server.AdminAPIKey,
		Logger:        a.Logger.With("component", "ops"),
	})
}

// Close releases the database pool.
func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

// NewOutcomeMetrics returns CloudWatch-backed metrics when ENABLE_METRICS is
// set, and a no-op otherwise.
func NewOutcomeMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (scheduler.OutcomeMetrics, error) {
	if !cfg.Observability.EnableMetrics {
		return scheduler.NoopMetrics{}, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS SDK config: %w", err)
	}
	client := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})
	return scheduler.NewCloudWatchOutcomeMetrics(client, cfg.Observability.MetricNamespace, logger), nil
}
