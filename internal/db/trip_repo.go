package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"smartdelay/internal/types"
)

// TripRepository provides data access for the planned_trips table.
//
// next_check_at only moves forward: SetNextCheck ignores instants at or
// before the stored value, so a late or replayed write can never make a trip
// due again earlier than the scheduler decided.
type TripRepository struct {
	db DBTX
}

// NewTripRepository creates a new TripRepository backed by the given
// database connection (pool or transaction).
func NewTripRepository(db DBTX) *TripRepository {
	return &TripRepository{db: db}
}

const tripColumns = `trip_id, user_id, route_waypoints, planned_departure_local, user_timezone,
		        destination_name, created_at, next_check_at, last_alert_at`

func scanTrip(row pgx.Row) (types.PlannedTrip, error) {
	var t types.PlannedTrip
	err := row.Scan(
		&t.TripID,
		&t.UserID,
		&t.RouteWaypoints,
		&t.PlannedDepartureLocal,
		&t.UserTimezone,
		&t.DestinationName,
		&t.CreatedAt,
		&t.NextCheckAt,
		&t.LastAlertAt,
	)
	return t, err
}

// Create inserts a new trip and makes it due immediately (next_check_at =
// now), so it is picked up by the next tick that sees it inside the
// lookahead horizon.
func (r *TripRepository) Create(ctx context.Context, trip *types.PlannedTrip, now time.Time) error {
	if err := trip.Validate(); err != nil {
		return err
	}

	trip.CreatedAt = now
	trip.NextCheckAt = &now
	trip.LastAlertAt = nil

	_, err := r.db.Exec(ctx,
		`INSERT INTO planned_trips (trip_id, user_id, route_waypoints, planned_departure_local,
		                            user_timezone, destination_name, created_at, next_check_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		trip.TripID,
		trip.UserID,
		trip.RouteWaypoints,
		trip.PlannedDepartureLocal.UTC(),
		trip.UserTimezone,
		trip.DestinationName,
		now,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create trip", err)
	}
	return nil
}

// GetByID returns one trip, or ErrCodeNotFoundTrip.
func (r *TripRepository) GetByID(ctx context.Context, tripID string) (*types.PlannedTrip, error) {
	t, err := scanTrip(r.db.QueryRow(ctx,
		`SELECT `+tripColumns+`
		 FROM planned_trips
		 WHERE trip_id = $1`,
		tripID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundTrip, "trip not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get trip", err)
	}
	return &t, nil
}

// FindTripsDue returns trips whose next_check_at has passed and whose planned
// departure lies in (now, now+lookahead], oldest check first.
//
// Unlike a plain "departure <= now+lookahead" window, departed trips are
// never selected: there is nothing left to delay, and they would otherwise
// be re-evaluated on every tick.
//
// SQL: SELECT ... FROM planned_trips
//
//	WHERE next_check_at <= $1 AND planned_departure_local > $1
//	  AND planned_departure_local <= $2
//	ORDER BY next_check_at LIMIT $3
func (r *TripRepository) FindTripsDue(ctx context.Context, now time.Time, lookahead time.Duration, limit int) ([]types.PlannedTrip, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+tripColumns+`
		 FROM planned_trips
		 WHERE next_check_at IS NOT NULL
		   AND next_check_at <= $1
		   AND planned_departure_local > $1
		   AND planned_departure_local <= $2
		 ORDER BY next_check_at ASC, trip_id ASC
		 LIMIT $3`,
		now,
		now.Add(lookahead),
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query due trips", err)
	}
	defer rows.Close()

	var trips []types.PlannedTrip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan trip", err)
		}
		trips = append(trips, t)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating due trips", err)
	}
	return trips, nil
}

// SetNextCheck moves next_check_at forward to at. It reports whether the row
// changed; false means the trip is gone or already scheduled at or after at.
func (r *TripRepository) SetNextCheck(ctx context.Context, tripID string, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE planned_trips
		 SET next_check_at = $2
		 WHERE trip_id = $1
		   AND (next_check_at IS NULL OR next_check_at < $2)`,
		tripID,
		at,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to set next check", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ClaimTrip leases a due trip to the caller by moving next_check_at to
// until, but only while the trip is still due at now. It reports false when
// another worker claimed or rescheduled the trip first. The conditional
// UPDATE is the cross-process guard against two workers evaluating, and
// notifying, the same trip at once; an abandoned claim expires at until.
func (r *TripRepository) ClaimTrip(ctx context.Context, tripID string, now, until time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE planned_trips
		 SET next_check_at = $3
		 WHERE trip_id = $1
		   AND next_check_at IS NOT NULL
		   AND next_check_at <= $2`,
		tripID,
		now,
		until,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to claim trip", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ReleaseClaim hands back a claim that produced no outcome by restoring the
// previous next_check_at. It only touches the row while the claim is still
// the current value.
func (r *TripRepository) ReleaseClaim(ctx context.Context, tripID string, until, previous time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE planned_trips
		 SET next_check_at = $3
		 WHERE trip_id = $1 AND next_check_at = $2`,
		tripID,
		until,
		previous,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to release trip claim", err)
	}
	return nil
}

// SetLastAlert stamps the instant of the most recent delivered alert.
func (r *TripRepository) SetLastAlert(ctx context.Context, tripID string, at time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE planned_trips SET last_alert_at = $2 WHERE trip_id = $1`,
		tripID,
		at,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to set last alert", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundTrip, "trip not found", nil)
	}
	return nil
}

// Delete removes a trip. Notifications for it are kept as history.
func (r *TripRepository) Delete(ctx context.Context, tripID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM planned_trips WHERE trip_id = $1`, tripID)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete trip", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundTrip, "trip not found", nil)
	}
	return nil
}
