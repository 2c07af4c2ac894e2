package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"smartdelay/internal/types"
)

func validTrip() *types.PlannedTrip {
	return &types.PlannedTrip{
		TripID:                "trip-1",
		UserID:                "user-1",
		RouteWaypoints:        types.Route{{Lat: 47.6, Lon: -122.3}},
		PlannedDepartureLocal: time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC),
		UserTimezone:          "America/Los_Angeles",
	}
}

func tripRow(id string, departure time.Time, nextCheck *time.Time) []any {
	return []any{
		id, "user-1", []byte(`[{"lat":47.6,"lon":-122.3}]`), departure, "UTC",
		"Rainier", departure.Add(-24 * time.Hour), nextCheck, (*time.Time)(nil),
	}
}

func TestTripRepository_Create_SetsNextCheckToNow(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTripRepository(db)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		return len(args) == 7 && args[0] == "trip-1" && args[6] == now
	})).Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	trip := validTrip()
	require.NoError(t, repo.Create(context.Background(), trip, now))
	require.NotNil(t, trip.NextCheckAt)
	assert.Equal(t, now, *trip.NextCheckAt)
	assert.Equal(t, now, trip.CreatedAt)
	db.AssertExpectations(t)
}

func TestTripRepository_Create_RejectsInvalidTrip(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTripRepository(db)

	trip := validTrip()
	trip.RouteWaypoints = nil

	err := repo.Create(context.Background(), trip, time.Now())
	assert.Equal(t, types.ErrCodeValidationInvalidTrip, types.CodeOf(err))
	db.AssertNotCalled(t, "Exec", mock.Anything, mock.Anything, mock.Anything)
}

func TestTripRepository_FindTripsDue(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTripRepository(db)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	check := now.Add(-time.Minute)

	rows := newMockRows([][]any{
		tripRow("trip-a", now.Add(2*time.Hour), &check),
		tripRow("trip-b", now.Add(5*time.Hour), &check),
	})
	// Departed trips are excluded by the lower departure bound.
	db.On("Query", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return containsAll(sql, "next_check_at <= $1", "planned_departure_local > $1", "planned_departure_local <= $2")
	}), []any{now, now.Add(6 * time.Hour), 100}).
		Return(rows, nil)

	trips, err := repo.FindTripsDue(context.Background(), now, 6*time.Hour, 100)
	require.NoError(t, err)
	require.Len(t, trips, 2)
	assert.Equal(t, "trip-a", trips[0].TripID)
	assert.Equal(t, types.Route{{Lat: 47.6, Lon: -122.3}}, trips[0].RouteWaypoints)
	assert.Equal(t, check, *trips[1].NextCheckAt)
	assert.Nil(t, trips[1].LastAlertAt)
	assert.True(t, rows.closed)
}

func TestTripRepository_FindTripsDue_Errors(t *testing.T) {
	t.Run("query", func(t *testing.T) {
		db := new(mockDBTX)
		db.On("Query", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("conn refused"))

		_, err := NewTripRepository(db).FindTripsDue(context.Background(), time.Now(), time.Hour, 10)
		assert.Equal(t, types.ErrCodeInternalDB, types.CodeOf(err))
	})

	t.Run("iteration", func(t *testing.T) {
		db := new(mockDBTX)
		rows := newMockRows(nil)
		rows.errVal = errors.New("stream reset")
		db.On("Query", mock.Anything, mock.Anything, mock.Anything).Return(rows, nil)

		_, err := NewTripRepository(db).FindTripsDue(context.Background(), time.Now(), time.Hour, 10)
		assert.Equal(t, types.ErrCodeInternalDB, types.CodeOf(err))
	})
}

func TestTripRepository_SetNextCheck(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		tag      string
		advanced bool
	}{
		{"moves forward", "UPDATE 1", true},
		{"ignored when not later", "UPDATE 0", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := new(mockDBTX)
			db.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool {
				return containsAll(sql, "next_check_at IS NULL", "next_check_at < $2")
			}), []any{"trip-1", at}).Return(pgconn.NewCommandTag(tt.tag), nil)

			advanced, err := NewTripRepository(db).SetNextCheck(context.Background(), "trip-1", at)
			require.NoError(t, err)
			assert.Equal(t, tt.advanced, advanced)
			db.AssertExpectations(t)
		})
	}
}

func TestTripRepository_ClaimTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	until := now.Add(80 * time.Second)

	tests := []struct {
		name    string
		tag     string
		claimed bool
	}{
		{"still due", "UPDATE 1", true},
		{"claimed elsewhere", "UPDATE 0", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := new(mockDBTX)
			db.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool {
				return containsAll(sql, "SET next_check_at = $3", "next_check_at <= $2")
			}), []any{"trip-1", now, until}).Return(pgconn.NewCommandTag(tt.tag), nil)

			claimed, err := NewTripRepository(db).ClaimTrip(context.Background(), "trip-1", now, until)
			require.NoError(t, err)
			assert.Equal(t, tt.claimed, claimed)
			db.AssertExpectations(t)
		})
	}

	t.Run("query error", func(t *testing.T) {
		db := new(mockDBTX)
		db.On("Exec", mock.Anything, mock.Anything, mock.Anything).
			Return(pgconn.CommandTag{}, errors.New("connection reset"))

		_, err := NewTripRepository(db).ClaimTrip(context.Background(), "trip-1", now, until)
		assert.Equal(t, types.ErrCodeInternalDB, types.CodeOf(err))
	})
}

func TestTripRepository_ReleaseClaim(t *testing.T) {
	until := time.Date(2026, 3, 1, 9, 31, 20, 0, time.UTC)
	previous := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	db := new(mockDBTX)
	db.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return containsAll(sql, "SET next_check_at = $3", "next_check_at = $2")
	}), []any{"trip-1", until, previous}).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	require.NoError(t, NewTripRepository(db).ReleaseClaim(context.Background(), "trip-1", until, previous))
	db.AssertExpectations(t)
}

func TestTripRepository_SetLastAlert_NotFound(t *testing.T) {
	db := new(mockDBTX)
	db.On("Exec", mock.Anything, mock.Anything, mock.Anything).Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := NewTripRepository(db).SetLastAlert(context.Background(), "missing", time.Now())
	assert.Equal(t, types.ErrCodeNotFoundTrip, types.CodeOf(err))
}

func TestTripRepository_GetByID(t *testing.T) {
	departure := time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)

	t.Run("found", func(t *testing.T) {
		db := new(mockDBTX)
		db.On("QueryRow", mock.Anything, mock.Anything, []any{"trip-1"}).Return(&mockRow{
			scanFn: func(dest ...any) error { return assignAll(tripRow("trip-1", departure, nil), dest...) },
		})

		trip, err := NewTripRepository(db).GetByID(context.Background(), "trip-1")
		require.NoError(t, err)
		assert.Equal(t, departure, trip.PlannedDepartureLocal)
		assert.Nil(t, trip.NextCheckAt)
	})

	t.Run("missing", func(t *testing.T) {
		db := new(mockDBTX)
		db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).Return(&mockRow{scanErr: pgx.ErrNoRows})

		_, err := NewTripRepository(db).GetByID(context.Background(), "nope")
		assert.Equal(t, types.ErrCodeNotFoundTrip, types.CodeOf(err))
	})
}
