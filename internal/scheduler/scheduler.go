package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"smartdelay/internal/optimizer"
	"smartdelay/internal/types"
)

// Settings are the tunables of the evaluation loop.
type Settings struct {
	TickInterval       time.Duration
	Lookahead          time.Duration
	Cooldown           time.Duration
	WindowHours        int
	ThresholdPct       float64
	MaxDelayHours      int
	Concurrency        int
	CallTimeout        time.Duration
	Sampling           optimizer.SamplingMode
	ForecastHours      int
	NotEntitledRecheck time.Duration
	BatchLimit         int
}

// DefaultSettings returns the documented defaults.
func DefaultSettings() Settings {
	return Settings{
		TickInterval:       30 * time.Minute,
		Lookahead:          6 * time.Hour,
		Cooldown:           12 * time.Hour,
		WindowHours:        3,
		ThresholdPct:       15,
		MaxDelayHours:      3,
		Concurrency:        8,
		CallTimeout:        10 * time.Second,
		Sampling:           optimizer.SamplingHourly,
		ForecastHours:      12,
		NotEntitledRecheck: time.Hour,
		BatchLimit:         500,
	}
}

// claimCallBudget is how many CallTimeouts a trip claim lasts. One
// evaluation makes at most seven sequential calls after the claim.
const claimCallBudget = 8

// ClaimLease is how long a claimed trip stays hidden from other workers.
func (s Settings) ClaimLease() time.Duration {
	return claimCallBudget * s.CallTimeout
}

// Validate rejects settings the optimizer would refuse on every trip. These
// are operator errors, so they surface at startup instead of per tick.
func (s Settings) Validate() error {
	switch {
	case s.TickInterval <= 0:
		return types.NewInvalidInput("tick_interval", "must be > 0")
	case s.Lookahead <= 0:
		return types.NewInvalidInput("lookahead", "must be > 0")
	case s.Cooldown < 0:
		return types.NewInvalidInput("cooldown", "must be >= 0")
	case s.WindowHours < 0:
		return types.NewInvalidInput("window_hours", "must be >= 0")
	case math.IsNaN(s.ThresholdPct) || s.ThresholdPct < 0 || s.ThresholdPct > 100:
		return types.NewInvalidInput("threshold_improvement_pct", "must be within [0, 100]")
	case s.MaxDelayHours < 0:
		return types.NewInvalidInput("max_delay", "must be >= 0")
	case s.Concurrency < 1:
		return types.NewInvalidInput("concurrency", "must be >= 1")
	case s.CallTimeout <= 0:
		return types.NewInvalidInput("call_timeout", "must be > 0")
	case !s.Sampling.Valid():
		return types.NewInvalidInput("sampling", "must be first or hourly")
	case s.ForecastHours < 1:
		return types.NewInvalidInput("forecast_hours", "must be >= 1")
	case s.BatchLimit < 1:
		return types.NewInvalidInput("batch_limit", "must be >= 1")
	case s.Sampling == optimizer.SamplingHourly && s.ForecastHours < s.requiredForecastHours():
		return types.NewInvalidInput("forecast_hours",
			fmt.Sprintf("must be >= %d to cover the lookahead plus the delay window", s.requiredForecastHours()))
	}
	if shortest := DefaultReschedulePolicy(s.NotEntitledRecheck).Shortest(); s.ClaimLease() >= shortest {
		return types.NewInvalidInput("call_timeout",
			fmt.Sprintf("claim lease %s must be shorter than the shortest reschedule interval %s", s.ClaimLease(), shortest))
	}
	return nil
}

// requiredForecastHours is the sample count hourly sampling needs so the
// latest departure plus the longest delay still has its own sample.
func (s Settings) requiredForecastHours() int {
	return int(math.Ceil(s.Lookahead.Hours())) + s.WindowHours
}

// Config holds the dependencies of a Scheduler. Locks, History, and Metrics
// are optional.
type Config struct {
	Trips         TripStore
	Entitlements  EntitlementChecker
	Notifications NotificationStore
	Tokens        TokenStore
	Forecasts     ForecastSource
	Dispatcher    Dispatcher
	Outcomes      OutcomeCommitter

	Locks   JobLocker
	History JobHistory
	Metrics OutcomeMetrics

	Settings Settings
	WorkerID string
	Clock    types.Clock
	Logger   *slog.Logger
}

// Scheduler drives periodic ticks. A single Scheduler is safe for
// concurrent Tick calls (the ticker loop and a manual ops trigger may
// overlap). The in-flight set keeps one evaluation per trip inside this
// process; TripStore.ClaimTrip extends that across processes.
type Scheduler struct {
	evaluator *Evaluator
	trips     TripStore
	locks     JobLocker
	history   JobHistory
	metrics   OutcomeMetrics
	settings  Settings
	workerID  string
	clock     types.Clock
	logger    *slog.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// New validates the settings and builds a Scheduler.
func New(cfg Config) (*Scheduler, error) {
	if err := cfg.Settings.Validate(); err != nil {
		return nil, err
	}
	if cfg.Trips == nil || cfg.Entitlements == nil || cfg.Notifications == nil ||
		cfg.Tokens == nil || cfg.Forecasts == nil || cfg.Dispatcher == nil || cfg.Outcomes == nil {
		return nil, errors.New("scheduler: missing required dependency")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = "worker-" + uuid.NewString()
	}

	return &Scheduler{
		evaluator: &Evaluator{
			trips:         cfg.Trips,
			entitlements:  cfg.Entitlements,
			notifications: cfg.Notifications,
			tokens:        cfg.Tokens,
			forecasts:     cfg.Forecasts,
			dispatcher:    cfg.Dispatcher,
			outcomes:      cfg.Outcomes,
			policy:        DefaultReschedulePolicy(cfg.Settings.NotEntitledRecheck),
			settings:      cfg.Settings,
			logger:        logger,
		},
		trips:    cfg.Trips,
		locks:    cfg.Locks,
		history:  cfg.History,
		metrics:  metrics,
		settings: cfg.Settings,
		workerID: workerID,
		clock:    clock,
		logger:   logger,
		inFlight: make(map[string]struct{}),
	}, nil
}

// Run ticks immediately and then every TickInterval until ctx is cancelled.
// Tick errors are logged; they never stop the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.settings.TickInterval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "scheduler started",
		"worker_id", s.workerID,
		"tick_interval", s.settings.TickInterval.String(),
	)

	for {
		if _, err := s.Tick(ctx, s.clock.Now()); err != nil && ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "tick failed", "error", err)
		}

		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// tickLockID names the cross-process lock for the tick slot containing now.
func (s *Scheduler) tickLockID(now time.Time) string {
	return fmt.Sprintf("%s:%s", TickJobType, now.Truncate(s.settings.TickInterval).Format(time.RFC3339))
}

// Tick evaluates every due trip once at reference time now.
//
// Per-trip failures are converted into reschedule decisions and never abort
// the tick. The returned error is non-nil only when due trips could not be
// selected, or when operator-facing problems (invalid optimizer input,
// failed writes) occurred on some trips; in the latter case the result is
// still complete.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (TickResult, error) {
	now = now.UTC()
	tickID := uuid.NewString()
	ctx = types.WithTickID(ctx, tickID)
	logger := s.logger.With("tick_id", tickID)
	ctx = types.WithLogger(ctx, logger)

	result := TickResult{
		TickID:   tickID,
		Now:      now,
		Outcomes: make(map[types.TripState]int),
	}

	if s.locks != nil {
		lockID := s.tickLockID(now)
		acquired, err := s.locks.Acquire(ctx, lockID, s.workerID, s.settings.TickInterval)
		if err != nil {
			return result, fmt.Errorf("acquiring tick lock: %w", err)
		}
		if !acquired {
			logger.InfoContext(ctx, "tick slot held by another worker", "lock_id", lockID)
			result.Locked = true
			return result, nil
		}
		defer func() {
			if err := s.locks.Release(context.WithoutCancel(ctx), lockID, s.workerID); err != nil {
				logger.WarnContext(ctx, "failed to release tick lock", "lock_id", lockID, "error", err)
			}
		}()
	}

	var historyID int64
	if s.history != nil {
		id, err := s.history.Start(ctx, TickJobType)
		if err != nil {
			logger.WarnContext(ctx, "failed to record tick start", "error", err)
		}
		historyID = id
	}

	err := s.runTick(ctx, now, &result)

	if s.history != nil && historyID != 0 {
		status := "success"
		if err != nil {
			status = "failed"
		}
		if herr := s.history.Finish(context.WithoutCancel(ctx), historyID, status, result.Processed, err); herr != nil {
			logger.WarnContext(ctx, "failed to record tick finish", "error", herr)
		}
	}
	s.metrics.RecordTick(context.WithoutCancel(ctx), result)

	logger.InfoContext(ctx, "tick complete",
		"due", result.Due,
		"processed", result.Processed,
		"skipped", result.Skipped,
		"errors", len(result.Errors),
	)
	return result, err
}

func (s *Scheduler) runTick(ctx context.Context, now time.Time, result *TickResult) error {
	trips, err := s.trips.FindTripsDue(ctx, now, s.settings.Lookahead, s.settings.BatchLimit)
	if err != nil {
		return fmt.Errorf("finding due trips: %w", err)
	}
	result.Due = len(trips)
	if len(trips) == 0 {
		return nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.settings.Concurrency)

	for i, trip := range trips {
		if gctx.Err() != nil {
			mu.Lock()
			result.Skipped += len(trips) - i
			mu.Unlock()
			break
		}
		if !s.claim(trip.TripID) {
			mu.Lock()
			result.Skipped++
			mu.Unlock()
			continue
		}

		g.Go(func() error {
			defer s.release(trip.TripID)

			until, claimed, err := s.claimTrip(gctx, trip.TripID, now)
			if err != nil || !claimed {
				mu.Lock()
				defer mu.Unlock()
				result.Skipped++
				if err != nil {
					result.Errors = append(result.Errors, fmt.Errorf("trip %s: %w", trip.TripID, err))
				}
				return nil
			}

			ev := s.evaluateIsolated(gctx, trip, now)
			if ev.Aborted {
				s.releaseClaim(gctx, trip, until)
			}

			mu.Lock()
			defer mu.Unlock()
			if ev.Aborted {
				result.Skipped++
				return nil
			}
			result.Processed++
			result.Outcomes[ev.State]++
			if ev.Err != nil && operatorFacing(ev.Err) {
				result.Errors = append(result.Errors, fmt.Errorf("trip %s: %w", ev.TripID, ev.Err))
			}
			s.metrics.RecordOutcome(context.WithoutCancel(gctx), ev.State)
			// Never return an error: errgroup would cancel sibling trips.
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(result.Errors...)
}

// evaluateIsolated keeps a panic in one trip's evaluation from taking down
// the tick. The trip is rescheduled as invalid so it cannot spin.
func (s *Scheduler) evaluateIsolated(ctx context.Context, trip types.PlannedTrip, now time.Time) (ev Evaluation) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		s.logger.ErrorContext(ctx, "trip evaluation panicked", "trip_id", trip.TripID, "panic", r)
		ev = Evaluation{
			TripID:      trip.TripID,
			State:       types.StateInvalidTrip,
			NextCheckAt: s.evaluator.policy.NextCheck(types.StateInvalidTrip, now),
			Err:         types.NewAppError(types.ErrCodeInternalUnexpected, fmt.Sprintf("panic evaluating trip: %v", r), nil),
		}
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.settings.CallTimeout)
		defer cancel()
		if _, err := s.trips.SetNextCheck(callCtx, trip.TripID, ev.NextCheckAt); err != nil {
			ev.Err = errors.Join(ev.Err, err)
		}
	}()
	return s.evaluator.Evaluate(ctx, trip, now)
}

// claimTrip leases the trip in the store before any gate runs, so a worker
// in another process that selected the same trip skips it. The lease is
// anchored on the later of the tick time and the wall clock so a replayed
// tick still hides the trip from live workers.
func (s *Scheduler) claimTrip(ctx context.Context, tripID string, now time.Time) (time.Time, bool, error) {
	base := now
	if wall := s.clock.Now(); wall.After(base) {
		base = wall
	}
	until := base.Add(s.settings.ClaimLease()).Truncate(time.Microsecond)
	if ctx.Err() != nil {
		return until, false, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, s.settings.CallTimeout)
	defer cancel()
	claimed, err := s.trips.ClaimTrip(callCtx, tripID, now, until)
	if err != nil {
		if ctx.Err() != nil {
			return until, false, nil
		}
		return until, false, fmt.Errorf("claiming trip: %w", err)
	}
	if !claimed {
		types.LoggerFromContext(ctx, s.logger).DebugContext(ctx, "trip claimed by another worker", "trip_id", tripID)
	}
	return until, claimed, nil
}

// releaseClaim restores next_check_at for a trip whose evaluation was
// abandoned before any outcome was written.
func (s *Scheduler) releaseClaim(ctx context.Context, trip types.PlannedTrip, until time.Time) {
	if trip.NextCheckAt == nil {
		return
	}
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.settings.CallTimeout)
	defer cancel()
	if err := s.trips.ReleaseClaim(callCtx, trip.TripID, until, *trip.NextCheckAt); err != nil {
		types.LoggerFromContext(ctx, s.logger).WarnContext(ctx, "failed to release trip claim",
			"trip_id", trip.TripID,
			"error", err,
		)
	}
}

// claim marks tripID in flight in this process. It returns false if it
// already was.
func (s *Scheduler) claim(tripID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[tripID]; busy {
		return false
	}
	s.inFlight[tripID] = struct{}{}
	return true
}

func (s *Scheduler) release(tripID string) {
	s.mu.Lock()
	delete(s.inFlight, tripID)
	s.mu.Unlock()
}

// operatorFacing reports whether a per-trip error points at configuration
// or infrastructure rather than a runtime condition of that trip.
func operatorFacing(err error) bool {
	return types.HasCode(err, types.ErrCodeValidationInvalidInput) ||
		types.HasCode(err, types.ErrCodeInternalDB) ||
		types.HasCode(err, types.ErrCodeInternalUnexpected)
}
