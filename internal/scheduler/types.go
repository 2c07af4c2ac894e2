// Package scheduler runs the periodic smart-delay evaluation. Each tick
// selects due trips, evaluates them on a bounded worker pool, and commits
// one outcome per trip that always moves next_check_at past the tick time.
package scheduler

import (
	"context"
	"time"

	"smartdelay/internal/db"
	"smartdelay/internal/notifications/push"
	"smartdelay/internal/types"
)

// TickJobType is the job_history job type and the job lock prefix.
const TickJobType = "smart_delay_tick"

// TickPayload is the EventBridge event for the Lambda entrypoint and the
// body of POST /ops/tick.
//
//	{
//	  "reference_time": "2026-03-01T09:00:00Z"  // optional
//	}
type TickPayload struct {
	// ReferenceTime pins "now" for manual runs and backfills. If nil, the
	// scheduler's clock is used.
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}

// TickResult summarizes one tick.
type TickResult struct {
	TickID    string                  `json:"tick_id"`
	Now       time.Time               `json:"now"`
	Due       int                     `json:"due"`
	Processed int                     `json:"processed"`
	Skipped   int                     `json:"skipped"` // claimed elsewhere or aborted by shutdown
	Outcomes  map[types.TripState]int `json:"outcomes"`
	Locked    bool                    `json:"locked"` // another worker held the tick lock
	Errors    []error                 `json:"-"`
}

// TripStore selects due trips, leases them to one worker, and moves their
// next check forward.
type TripStore interface {
	FindTripsDue(ctx context.Context, now time.Time, lookahead time.Duration, limit int) ([]types.PlannedTrip, error)
	ClaimTrip(ctx context.Context, tripID string, now, until time.Time) (bool, error)
	ReleaseClaim(ctx context.Context, tripID string, until, previous time.Time) error
	SetNextCheck(ctx context.Context, tripID string, at time.Time) (bool, error)
}

// EntitlementChecker answers the premium gate at the tick's reference time.
type EntitlementChecker interface {
	IsPremiumAt(ctx context.Context, userID string, at time.Time) (bool, error)
}

// NotificationStore answers the cooldown gate.
type NotificationStore interface {
	HasRecentNotification(ctx context.Context, userID, tripID string, since time.Time) (bool, error)
}

// TokenStore resolves the device to notify.
type TokenStore interface {
	LatestTokenFor(ctx context.Context, userID string) (string, bool, error)
}

// ForecastSource returns hourly samples for a point. An empty result means
// no data.
type ForecastSource interface {
	GetHourlyForecast(ctx context.Context, lat, lon float64, hours int) ([]types.ForecastSample, error)
}

// Dispatcher sends one recommendation.
type Dispatcher interface {
	SendSmartDelayNotification(ctx context.Context, token string, delayHours int, improvementPct float64, tripID string) (push.Message, error)
}

// OutcomeCommitter persists a delivered alert atomically.
type OutcomeCommitter interface {
	CommitNotified(ctx context.Context, o db.NotifiedOutcome) (string, error)
}

// JobLocker keeps two workers from running the same tick slot. Per-trip
// exclusion comes from TripStore.ClaimTrip.
type JobLocker interface {
	Acquire(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, lockID string, workerID string) error
}

// JobHistory records tick runs.
type JobHistory interface {
	Start(ctx context.Context, jobType string) (int64, error)
	Finish(ctx context.Context, id int64, status string, items int, jobErr error) error
}
