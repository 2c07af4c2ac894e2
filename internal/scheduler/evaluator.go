package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"smartdelay/internal/db"
	"smartdelay/internal/notifications/push"
	"smartdelay/internal/optimizer"
	"smartdelay/internal/types"
)

// Evaluation is the outcome of one trip's pass through the gates.
type Evaluation struct {
	TripID         string
	State          types.TripState
	NextCheckAt    time.Time
	Best           *types.BestDelayResult
	NotificationID string

	// Aborted is set when the tick was cancelled before any outcome was
	// written; the scheduler hands the claim back so the trip keeps its
	// previous next_check_at.
	Aborted bool

	// Err carries the failure behind a failure state. Policy skips
	// (not entitled, cooldown, no improvement) leave it nil.
	Err error
}

// Evaluator runs the per-trip state machine:
//
//	validate -> entitlement -> cooldown -> forecast -> optimize -> token -> dispatch -> commit
//
// It short-circuits at the first failing gate. Every blocking call runs
// under its own timeout; a timeout takes the failure branch of that step.
type Evaluator struct {
	trips         TripStore
	entitlements  EntitlementChecker
	notifications NotificationStore
	tokens        TokenStore
	forecasts     ForecastSource
	dispatcher    Dispatcher
	outcomes      OutcomeCommitter
	policy        ReschedulePolicy
	settings      Settings
	logger        *slog.Logger
}

// Evaluate decides and commits the outcome for trip at tick time now.
func (e *Evaluator) Evaluate(ctx context.Context, trip types.PlannedTrip, now time.Time) Evaluation {
	logger := types.LoggerFromContext(ctx, e.logger).With(
		"trip_id", trip.TripID,
		"user_id", trip.UserID,
	)
	ctx = types.WithLogger(ctx, logger)

	ev := e.decide(ctx, &trip, now)
	ev.TripID = trip.TripID
	if ev.State == types.StateNotified || ev.Aborted {
		return ev
	}

	// Non-notified branches write only next_check_at. A cancelled tick
	// leaves the trip untouched rather than half-evaluated.
	if ctx.Err() != nil {
		ev.Aborted = true
		return ev
	}
	ev.NextCheckAt = e.policy.NextCheck(ev.State, now)

	callCtx, cancel := context.WithTimeout(ctx, e.settings.CallTimeout)
	defer cancel()
	if _, err := e.trips.SetNextCheck(callCtx, trip.TripID, ev.NextCheckAt); err != nil {
		ev.Err = errors.Join(ev.Err, fmt.Errorf("rescheduling trip %s: %w", trip.TripID, err))
	}

	e.logOutcome(ctx, logger, ev)
	return ev
}

// decide walks the gates and, on the notified branch, commits the outcome.
func (e *Evaluator) decide(ctx context.Context, trip *types.PlannedTrip, now time.Time) Evaluation {
	if err := trip.Validate(); err != nil {
		return Evaluation{State: types.StateInvalidTrip, Err: err}
	}

	premium, err := call(ctx, e.settings.CallTimeout, func(c context.Context) (bool, error) {
		return e.entitlements.IsPremiumAt(c, trip.UserID, now)
	})
	if err != nil {
		return Evaluation{State: types.StateNotEntitled, Err: fmt.Errorf("entitlement lookup: %w", err)}
	}
	if !premium {
		return Evaluation{State: types.StateNotEntitled}
	}

	// A failed cooldown lookup is treated as cooldown active: the gate
	// exists to prevent duplicate sends, so it fails closed.
	recent, err := call(ctx, e.settings.CallTimeout, func(c context.Context) (bool, error) {
		return e.notifications.HasRecentNotification(c, trip.UserID, trip.TripID, now.Add(-e.settings.Cooldown))
	})
	if err != nil {
		return Evaluation{State: types.StateInCooldown, Err: fmt.Errorf("cooldown lookup: %w", err)}
	}
	if recent {
		return Evaluation{State: types.StateInCooldown}
	}

	wp := trip.FirstWaypoint()
	forecast, err := call(ctx, e.settings.CallTimeout, func(c context.Context) ([]types.ForecastSample, error) {
		return e.forecasts.GetHourlyForecast(c, wp.Lat, wp.Lon, e.settings.ForecastHours)
	})
	if err != nil {
		return Evaluation{State: types.StateNoForecast, Err: fmt.Errorf("forecast: %w", err)}
	}
	if len(forecast) == 0 {
		return Evaluation{
			State: types.StateNoForecast,
			Err:   types.NewAppError(types.ErrCodeUpstreamNoForecastData, "forecast source returned no samples", nil),
		}
	}

	best, err := e.optimize(ctx, trip, forecast)
	if err != nil {
		return Evaluation{State: types.StateInvalidTrip, Err: err}
	}
	if best == nil {
		return Evaluation{State: types.StateEvaluatedNoImprovement}
	}

	token, found, err := call2(ctx, e.settings.CallTimeout, func(c context.Context) (string, bool, error) {
		return e.tokens.LatestTokenFor(c, trip.UserID)
	})
	if err != nil {
		return Evaluation{State: types.StateNoPushToken, Best: best, Err: fmt.Errorf("token lookup: %w", err)}
	}
	if !found {
		return Evaluation{
			State: types.StateNoPushToken,
			Best:  best,
			Err:   types.NewAppError(types.ErrCodePushNoToken, "user has no push token", nil),
		}
	}

	// Last point at which a shutdown can abandon the trip without a write.
	if ctx.Err() != nil {
		return Evaluation{Aborted: true, Best: best}
	}

	msg, err := call(ctx, e.settings.CallTimeout, func(c context.Context) (push.Message, error) {
		return e.dispatcher.SendSmartDelayNotification(c, token, best.BestDelayHours, best.ImprovementPct, trip.TripID)
	})
	if err != nil {
		state := types.StateDeliveryFailed
		if types.HasCode(err, types.ErrCodePushInvalidToken) {
			state = types.StateInvalidToken
		}
		return Evaluation{State: state, Best: best, Err: err}
	}

	return e.commitNotified(ctx, trip, best, msg, token, now)
}

// optimize scores the candidate delays and picks the best one.
func (e *Evaluator) optimize(ctx context.Context, trip *types.PlannedTrip, forecast []types.ForecastSample) (*types.BestDelayResult, error) {
	logger := types.LoggerFromContext(ctx, e.logger)
	departure := trip.PlannedDepartureLocal
	sampling := optimizer.WithSampling(e.settings.Sampling)

	if logger.Enabled(ctx, slog.LevelDebug) {
		if opts, err := optimizer.DelayOptions(forecast, trip.RouteWaypoints, departure, e.settings.WindowHours, sampling); err == nil {
			logger.DebugContext(ctx, "delay options scored", "options", opts)
		}
	}

	scores, err := optimizer.ComputeDepartureRisk(forecast, trip.RouteWaypoints, departure, e.settings.WindowHours, sampling)
	if err != nil {
		return nil, fmt.Errorf("computing departure risk: %w", err)
	}
	best, err := optimizer.BestDelayOption(scores, e.settings.ThresholdPct, e.settings.MaxDelayHours)
	if err != nil {
		return nil, fmt.Errorf("selecting delay: %w", err)
	}
	return best, nil
}

// commitNotified persists a delivered alert. The alert is already on the
// device, so the commit ignores tick cancellation; only its own timeout
// bounds it.
func (e *Evaluator) commitNotified(
	ctx context.Context,
	trip *types.PlannedTrip,
	best *types.BestDelayResult,
	msg push.Message,
	token string,
	now time.Time,
) Evaluation {
	ev := Evaluation{
		State:       types.StateNotified,
		Best:        best,
		NextCheckAt: e.policy.NextCheck(types.StateNotified, now),
	}

	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.settings.CallTimeout)
	defer cancel()

	id, err := e.outcomes.CommitNotified(commitCtx, db.NotifiedOutcome{
		Notification: &types.SmartDelayNotification{
			UserID:         trip.UserID,
			TripID:         trip.TripID,
			AlertType:      types.AlertTypeSmartDelay,
			Title:          msg.Title,
			Body:           msg.Body,
			DelayHours:     best.BestDelayHours,
			ImprovementPct: best.ImprovementPct,
			SentAt:         now,
		},
		Token:       token,
		NextCheckAt: ev.NextCheckAt,
	})
	if err != nil {
		// The cooldown row is missing, so at least push the trip out of the
		// next ticks' window.
		ev.Err = fmt.Errorf("committing notified outcome: %w", err)
		if _, serr := e.trips.SetNextCheck(commitCtx, trip.TripID, ev.NextCheckAt); serr != nil {
			ev.Err = errors.Join(ev.Err, fmt.Errorf("fallback reschedule: %w", serr))
		}
	}
	ev.NotificationID = id

	e.logOutcome(ctx, types.LoggerFromContext(ctx, e.logger), ev)
	return ev
}

func (e *Evaluator) logOutcome(ctx context.Context, logger *slog.Logger, ev Evaluation) {
	attrs := []any{
		"outcome", string(ev.State),
		"next_check_at", ev.NextCheckAt,
	}
	if ev.Best != nil {
		attrs = append(attrs, "delay_hours", ev.Best.BestDelayHours, "improvement_pct", ev.Best.ImprovementPct)
	}
	if ev.NotificationID != "" {
		attrs = append(attrs, "notification_id", ev.NotificationID)
	}
	if ev.Err != nil {
		attrs = append(attrs, "error", ev.Err, "error_code", string(types.CodeOf(ev.Err)))
		logger.WarnContext(ctx, "trip rescheduled after failure", attrs...)
		return
	}
	logger.InfoContext(ctx, "trip evaluated", attrs...)
}

// call runs fn under its own timeout derived from ctx.
func call[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	c, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(c)
}

func call2[A, B any](ctx context.Context, timeout time.Duration, fn func(context.Context) (A, B, error)) (A, B, error) {
	c, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(c)
}
