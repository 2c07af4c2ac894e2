package core

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"smartdelay/internal/types"
)

type mockTrips struct{ mock.Mock }

func (m *mockTrips) Create(ctx context.Context, trip *types.PlannedTrip, now time.Time) error {
	return m.Called(ctx, trip, now).Error(0)
}

func (m *mockTrips) GetByID(ctx context.Context, tripID string) (*types.PlannedTrip, error) {
	args := m.Called(ctx, tripID)
	trip, _ := args.Get(0).(*types.PlannedTrip)
	return trip, args.Error(1)
}

func (m *mockTrips) Delete(ctx context.Context, tripID string) error {
	return m.Called(ctx, tripID).Error(0)
}

type mockTokens struct{ mock.Mock }

func (m *mockTokens) Register(ctx context.Context, token *types.PushToken, now time.Time) error {
	return m.Called(ctx, token, now).Error(0)
}

type mockSubscriptions struct{ mock.Mock }

func (m *mockSubscriptions) Upsert(ctx context.Context, s *types.Subscription, eventAt time.Time) error {
	return m.Called(ctx, s, eventAt).Error(0)
}

func newRegistrationServer(t *testing.T, trips *mockTrips, tokens *mockTokens, subs *mockSubscriptions) *Server {
	t.Helper()
	s, err := NewServer(Config{
		Ticker:        &mockTicker{},
		Notifications: &mockLister{},
		Trips:         trips,
		Tokens:        tokens,
		Subscriptions: subs,
		AdminAPIKey:   testAdminKey,
		Clock:         types.FixedClock{T: fixedNow},
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return s
}

const tripBody = `{
	"trip_id": "trip-1",
	"user_id": "user-1",
	"route_waypoints": [{"lat": 47.6, "lon": -122.3, "name": "Seattle"}],
	"planned_departure_local": "2026-03-01T11:00:00-08:00",
	"user_timezone": "America/Los_Angeles",
	"destination_name": "Portland"
}`

func TestHandleCreateTrip(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		trips := &mockTrips{}
		trips.On("Create", mock.Anything, mock.MatchedBy(func(tr *types.PlannedTrip) bool {
			return tr.TripID == "trip-1" && len(tr.RouteWaypoints) == 1 && tr.UserTimezone == "America/Los_Angeles"
		}), fixedNow).Return(nil)
		s := newRegistrationServer(t, trips, &mockTokens{}, &mockSubscriptions{})

		rec := do(s, http.MethodPost, "/ops/trips", tripBody, adminHeaders())

		require.Equal(t, http.StatusCreated, rec.Code)
		assert.Contains(t, rec.Body.String(), `"trip_id":"trip-1"`)
		trips.AssertExpectations(t)
	})

	t.Run("invalid trip", func(t *testing.T) {
		trips := &mockTrips{}
		trips.On("Create", mock.Anything, mock.Anything, mock.Anything).
			Return(types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidTrip, "invalid planned trip", nil,
				map[string]any{"fields": []string{"user_timezone"}}))
		s := newRegistrationServer(t, trips, &mockTokens{}, &mockSubscriptions{})

		rec := do(s, http.MethodPost, "/ops/trips", tripBody, adminHeaders())

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, string(types.ErrCodeValidationInvalidTrip), decodeError(t, rec).Code)
	})

	t.Run("unknown field", func(t *testing.T) {
		s := newRegistrationServer(t, &mockTrips{}, &mockTokens{}, &mockSubscriptions{})
		rec := do(s, http.MethodPost, "/ops/trips", `{"trip_id":"x","color":"red"}`, adminHeaders())
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("requires admin key", func(t *testing.T) {
		s := newRegistrationServer(t, &mockTrips{}, &mockTokens{}, &mockSubscriptions{})
		rec := do(s, http.MethodPost, "/ops/trips", tripBody, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestHandleGetAndDeleteTrip(t *testing.T) {
	trips := &mockTrips{}
	trips.On("GetByID", mock.Anything, "trip-1").Return(&types.PlannedTrip{TripID: "trip-1", UserID: "user-1"}, nil)
	trips.On("GetByID", mock.Anything, "missing").Return(nil, types.NewAppError(types.ErrCodeNotFoundTrip, "trip not found", nil))
	trips.On("Delete", mock.Anything, "trip-1").Return(nil)
	trips.On("Delete", mock.Anything, "missing").Return(types.NewAppError(types.ErrCodeNotFoundTrip, "trip not found", nil))
	s := newRegistrationServer(t, trips, &mockTokens{}, &mockSubscriptions{})

	rec := do(s, http.MethodGet, "/ops/trips/trip-1", "", adminHeaders())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"user_id":"user-1"`)

	rec = do(s, http.MethodGet, "/ops/trips/missing", "", adminHeaders())
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(s, http.MethodDelete, "/ops/trips/trip-1", "", adminHeaders())
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(s, http.MethodDelete, "/ops/trips/missing", "", adminHeaders())
	assert.Equal(t, http.StatusNotFound, rec.Code)

	trips.AssertExpectations(t)
}

func TestHandleRegisterToken(t *testing.T) {
	tokens := &mockTokens{}
	tokens.On("Register", mock.Anything, mock.MatchedBy(func(p *types.PushToken) bool {
		return p.UserID == "user-1" && p.Token == "ExponentPushToken[abc]" && p.DeviceID == "iphone"
	}), fixedNow).Return(nil)
	s := newRegistrationServer(t, &mockTrips{}, tokens, &mockSubscriptions{})

	rec := do(s, http.MethodPut, "/ops/users/user-1/push-tokens",
		`{"token":"ExponentPushToken[abc]","device_id":"iphone"}`, adminHeaders())

	require.Equal(t, http.StatusOK, rec.Code)
	tokens.AssertExpectations(t)
}

func TestHandleRegisterToken_RejectsMalformedToken(t *testing.T) {
	tokens := &mockTokens{}
	s := newRegistrationServer(t, &mockTrips{}, tokens, &mockSubscriptions{})

	rec := do(s, http.MethodPut, "/ops/users/user-1/push-tokens",
		`{"token":"not-a-device-token"}`, adminHeaders())

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(types.ErrCodeValidationInvalidToken), decodeError(t, rec).Code)
	tokens.AssertNotCalled(t, "Register", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleUpsertSubscription(t *testing.T) {
	t.Run("uses event_at when given", func(t *testing.T) {
		eventAt := fixedNow.Add(-time.Hour)
		subs := &mockSubscriptions{}
		subs.On("Upsert", mock.Anything, mock.MatchedBy(func(s *types.Subscription) bool {
			return s.UserID == "user-1" && s.Plan == types.PlanPro && s.Status == types.SubscriptionActive
		}), eventAt).Return(nil)
		s := newRegistrationServer(t, &mockTrips{}, &mockTokens{}, subs)

		body, err := json.Marshal(map[string]any{"plan": "pro", "status": "active", "event_at": eventAt})
		require.NoError(t, err)
		rec := do(s, http.MethodPut, "/ops/users/user-1/subscription", string(body), adminHeaders())

		require.Equal(t, http.StatusOK, rec.Code)
		subs.AssertExpectations(t)
	})

	t.Run("defaults event_at to now", func(t *testing.T) {
		subs := &mockSubscriptions{}
		subs.On("Upsert", mock.Anything, mock.Anything, fixedNow).Return(nil)
		s := newRegistrationServer(t, &mockTrips{}, &mockTokens{}, subs)

		rec := do(s, http.MethodPut, "/ops/users/user-1/subscription", `{"plan":"free","status":"canceled"}`, adminHeaders())

		require.Equal(t, http.StatusOK, rec.Code)
		subs.AssertExpectations(t)
	})

	for name, body := range map[string]string{
		"bad plan":   `{"plan":"gold","status":"active"}`,
		"bad status": `{"plan":"pro","status":"frozen"}`,
	} {
		t.Run(name, func(t *testing.T) {
			s := newRegistrationServer(t, &mockTrips{}, &mockTokens{}, &mockSubscriptions{})
			rec := do(s, http.MethodPut, "/ops/users/user-1/subscription", body, adminHeaders())
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, string(types.ErrCodeValidationInvalidInput), decodeError(t, rec).Code)
		})
	}
}

func TestRegistrationRoutesAbsentWithoutDependencies(t *testing.T) {
	s := newTestServer(t, &mockTicker{}, &mockLister{})
	rec := do(s, http.MethodPost, "/ops/trips", tripBody, adminHeaders())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type mockHistory struct{ mock.Mock }

func (m *mockHistory) Recent(ctx context.Context, jobType string, limit int) ([]types.JobRun, error) {
	args := m.Called(ctx, jobType, limit)
	runs, _ := args.Get(0).([]types.JobRun)
	return runs, args.Error(1)
}

func TestHandleListTicks(t *testing.T) {
	history := &mockHistory{}
	history.On("Recent", mock.Anything, "smart_delay_tick", 3).Return([]types.JobRun{
		{ID: 9, JobType: "smart_delay_tick", StartedAt: fixedNow, Status: "success", Items: 4},
	}, nil)

	s, err := NewServer(Config{
		Ticker:        &mockTicker{},
		Notifications: &mockLister{},
		History:       history,
		AdminAPIKey:   testAdminKey,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	rec := do(s, http.MethodGet, "/ops/ticks?limit=2", "", adminHeaders())

	require.Equal(t, http.StatusOK, rec.Code)
	var body types.ListResponse[types.JobRun]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, 4, body.Data[0].Items)
	assert.False(t, body.PageInfo.HasMore)
	history.AssertExpectations(t)
}
