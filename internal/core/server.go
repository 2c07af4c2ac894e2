// Package core provides the ops HTTP surface of the smart-delay scheduler: a
// health check, a manual tick trigger, and a per-trip notification history.
// It is a chi router with the same middleware chain in both the long-running
// daemon and local development.
package core

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"smartdelay/internal/scheduler"
	"smartdelay/internal/types"
)

// TickRunner runs one scheduler tick at a reference time.
type TickRunner interface {
	Tick(ctx context.Context, now time.Time) (scheduler.TickResult, error)
}

// NotificationLister reads a trip's notification history, newest first.
type NotificationLister interface {
	ListForTrip(ctx context.Context, tripID string, limit int) ([]types.SmartDelayNotification, error)
}

// TripRegistry creates, reads and removes planned trips.
type TripRegistry interface {
	Create(ctx context.Context, trip *types.PlannedTrip, now time.Time) error
	GetByID(ctx context.Context, tripID string) (*types.PlannedTrip, error)
	Delete(ctx context.Context, tripID string) error
}

// TokenRegistrar stores device push tokens.
type TokenRegistrar interface {
	Register(ctx context.Context, token *types.PushToken, now time.Time) error
}

// TickHistory lists recorded ticks, newest first.
type TickHistory interface {
	Recent(ctx context.Context, jobType string, limit int) ([]types.JobRun, error)
}

// SubscriptionWriter stores the billing state read by the premium gate.
type SubscriptionWriter interface {
	Upsert(ctx context.Context, s *types.Subscription, eventAt time.Time) error
}

// Config holds the dependencies of a Server. AdminAPIKey guards the /ops
// routes; when unset they answer 403.
//
// Trips, Tokens, Subscriptions and History are optional. Their routes are mounted
// only when set.
type Config struct {
	Ticker        TickRunner
	Notifications NotificationLister
	Trips         TripRegistry
	Tokens        TokenRegistrar
	Subscriptions SubscriptionWriter
	History       TickHistory
	Probes        []HealthProbe
	AdminAPIKey   types.SecretString
	Clock         types.Clock
	Logger        *slog.Logger
}

// Server is the ops API.
type Server struct {
	ticker        TickRunner
	notifications NotificationLister
	trips         TripRegistry
	tokens        TokenRegistrar
	subscriptions SubscriptionWriter
	history       TickHistory
	probes        []HealthProbe
	adminKey      types.SecretString
	clock         types.Clock
	logger        *slog.Logger

	router *chi.Mux
}

// NewServer validates dependencies and mounts the routes.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Ticker == nil {
		return nil, errors.New("core: tick runner must not be nil")
	}
	if cfg.Notifications == nil {
		return nil, errors.New("core: notification lister must not be nil")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}

	s := &Server{
		ticker:        cfg.Ticker,
		notifications: cfg.Notifications,
		trips:         cfg.Trips,
		tokens:        cfg.Tokens,
		subscriptions: cfg.Subscriptions,
		history:       cfg.History,
		probes:        cfg.Probes,
		adminKey:      cfg.AdminAPIKey,
		clock:         clock,
		logger:        logger,
		router:        chi.NewRouter(),
	}
	s.mountRoutes()
	return s, nil
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}
