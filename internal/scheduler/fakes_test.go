package scheduler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"smartdelay/internal/db"
	"smartdelay/internal/notifications/push"
	"smartdelay/internal/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// memStore is an in-memory stand-in for the trip, token, notification,
// entitlement, and outcome stores. Writes honour context cancellation so
// tests can tell detached commits from cancelled ones.
type memStore struct {
	mu      sync.Mutex
	trips   map[string]*types.PlannedTrip
	order   []string
	premium map[string]bool
	tokens  map[string]string
	sent    []types.SmartDelayNotification

	findErr    error
	premiumErr error
	recentErr  error
	tokenErr   error
	commitErr  error
	setErr     error
	claimErr   error
	onFind     func()
	onClaim    func(tripID string)
	findCalls  int
	setCalls   int
	claimCalls int
	premiumAt  []time.Time
}

func newMemStore() *memStore {
	return &memStore{
		trips:   make(map[string]*types.PlannedTrip),
		premium: make(map[string]bool),
		tokens:  make(map[string]string),
	}
}

func (m *memStore) addTrip(t types.PlannedTrip) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trips[t.TripID] = &t
	m.order = append(m.order, t.TripID)
}

func (m *memStore) nextCheck(tripID string) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	if nc := m.trips[tripID].NextCheckAt; nc != nil {
		return *nc
	}
	return time.Time{}
}

func (m *memStore) makeDue(tripID string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trips[tripID].NextCheckAt = &at
}

func (m *memStore) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *memStore) FindTripsDue(_ context.Context, now time.Time, lookahead time.Duration, limit int) ([]types.PlannedTrip, error) {
	if m.onFind != nil {
		m.onFind()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.findCalls++
	if m.findErr != nil {
		return nil, m.findErr
	}
	var out []types.PlannedTrip
	for _, id := range m.order {
		t := m.trips[id]
		if t.NextCheckAt == nil || t.NextCheckAt.After(now) {
			continue
		}
		if !t.PlannedDepartureLocal.After(now) || t.PlannedDepartureLocal.After(now.Add(lookahead)) {
			continue
		}
		out = append(out, *t)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) SetNextCheck(ctx context.Context, tripID string, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setCalls++
	if m.setErr != nil {
		return false, m.setErr
	}
	t, ok := m.trips[tripID]
	if !ok || (t.NextCheckAt != nil && !t.NextCheckAt.Before(at)) {
		return false, nil
	}
	t.NextCheckAt = &at
	return true, nil
}

// ClaimTrip mirrors the conditional UPDATE: the lease is taken only while
// the trip is still due at now.
func (m *memStore) ClaimTrip(ctx context.Context, tripID string, now, until time.Time) (bool, error) {
	if m.onClaim != nil {
		m.onClaim(tripID)
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.claimCalls++
	if m.claimErr != nil {
		return false, m.claimErr
	}
	t, ok := m.trips[tripID]
	if !ok || t.NextCheckAt == nil || t.NextCheckAt.After(now) {
		return false, nil
	}
	t.NextCheckAt = &until
	return true, nil
}

func (m *memStore) ReleaseClaim(_ context.Context, tripID string, until, previous time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[tripID]
	if ok && t.NextCheckAt != nil && t.NextCheckAt.Equal(until) {
		t.NextCheckAt = &previous
	}
	return nil
}

func (m *memStore) IsPremiumAt(_ context.Context, userID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.premiumAt = append(m.premiumAt, at)
	return m.premium[userID], m.premiumErr
}

func (m *memStore) HasRecentNotification(_ context.Context, userID, tripID string, since time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recentErr != nil {
		return false, m.recentErr
	}
	for _, n := range m.sent {
		if n.UserID == userID && n.TripID == tripID && !n.SentAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) LatestTokenFor(_ context.Context, userID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tokenErr != nil {
		return "", false, m.tokenErr
	}
	tok, ok := m.tokens[userID]
	return tok, ok, nil
}

func (m *memStore) CommitNotified(ctx context.Context, o db.NotifiedOutcome) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.commitErr != nil {
		return "", m.commitErr
	}
	n := *o.Notification
	n.NotificationID = fmt.Sprintf("sdn_test_%d", len(m.sent)+1)
	m.sent = append(m.sent, n)
	t := m.trips[n.TripID]
	sentAt := n.SentAt
	t.LastAlertAt = &sentAt
	next := o.NextCheckAt
	t.NextCheckAt = &next
	return n.NotificationID, nil
}

// fakeForecasts serves forecasts keyed by latitude.
type fakeForecasts struct {
	mu       sync.Mutex
	byLat    map[float64][]types.ForecastSample
	errByLat map[float64]error
	hook     func(ctx context.Context) error
	calls    int
}

func (f *fakeForecasts) GetHourlyForecast(ctx context.Context, lat, _ float64, _ int) ([]types.ForecastSample, error) {
	f.mu.Lock()
	f.calls++
	samples, err, hook := f.byLat[lat], f.errByLat[lat], f.hook
	f.mu.Unlock()

	if hook != nil {
		if herr := hook(ctx); herr != nil {
			return nil, herr
		}
	}
	if lat == panicLat {
		panic("forecast decoder exploded")
	}
	return samples, err
}

// panicLat makes the fake forecast source panic.
const panicLat = -89.0

// fakeTransport records sends made through the real push dispatcher.
type fakeTransport struct {
	mu    sync.Mutex
	sends []string
	err   error
	hook  func(ctx context.Context)
}

func (f *fakeTransport) Send(ctx context.Context, token, _, _ string, _ map[string]string) error {
	f.mu.Lock()
	f.sends = append(f.sends, token)
	err, hook := f.err, f.hook
	f.mu.Unlock()
	if hook != nil {
		hook(ctx)
	}
	return err
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

type fakeLocker struct {
	mu       sync.Mutex
	held     bool
	err      error
	acquired []string
	released []string
}

func (l *fakeLocker) Acquire(_ context.Context, lockID, _ string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, l.err
	}
	if l.held {
		return false, nil
	}
	l.acquired = append(l.acquired, lockID)
	return true, nil
}

func (l *fakeLocker) Release(_ context.Context, lockID, _ string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released = append(l.released, lockID)
	return nil
}

type fakeHistory struct {
	started  []string
	finished []string
	items    int
}

func (h *fakeHistory) Start(_ context.Context, jobType string) (int64, error) {
	h.started = append(h.started, jobType)
	return int64(len(h.started)), nil
}

func (h *fakeHistory) Finish(_ context.Context, _ int64, status string, items int, _ error) error {
	h.finished = append(h.finished, status)
	h.items = items
	return nil
}

type recordingMetrics struct {
	mu       sync.Mutex
	outcomes []types.TripState
	ticks    []TickResult
}

func (r *recordingMetrics) RecordOutcome(_ context.Context, s types.TripState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, s)
}

func (r *recordingMetrics) RecordTick(_ context.Context, res TickResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ticks = append(r.ticks, res)
}

// --- fixtures ---

const goodToken = "ExponentPushToken[device-1]"

func testTrip(id, user string, lat float64, departure time.Time) types.PlannedTrip {
	due := testNow.Add(-time.Minute)
	return types.PlannedTrip{
		TripID:                id,
		UserID:                user,
		RouteWaypoints:        types.Route{{Lat: lat, Lon: -121.7}},
		PlannedDepartureLocal: departure,
		UserTimezone:          "America/Los_Angeles",
		CreatedAt:             testNow.Add(-24 * time.Hour),
		NextCheckAt:           &due,
	}
}

var (
	stormSample = types.ForecastSample{WindKPH: 70, PrecipMM: 20, TempC: -15, SevereAlerts: []string{"thunderstorm", "heavy_rain"}}
	calmSample  = types.ForecastSample{WindKPH: 5, PrecipMM: 0, TempC: 15}
)

// stormThenCalm returns 12 hourly samples from testNow: stormy until
// clearAt, calm from then on.
func stormThenCalm(clearAt time.Time) []types.ForecastSample {
	out := make([]types.ForecastSample, 0, 12)
	for h := 0; h < 12; h++ {
		ts := testNow.Add(time.Duration(h) * time.Hour)
		s := calmSample
		if ts.Before(clearAt) {
			s = stormSample
		}
		s.Time = ts
		out = append(out, s)
	}
	return out
}

func allCalm() []types.ForecastSample {
	return stormThenCalm(testNow)
}

type harness struct {
	store     *memStore
	forecasts *fakeForecasts
	transport *fakeTransport
	metrics   *recordingMetrics
	sched     *Scheduler
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()
	h := &harness{
		store:     newMemStore(),
		forecasts: &fakeForecasts{byLat: map[float64][]types.ForecastSample{}, errByLat: map[float64]error{}},
		transport: &fakeTransport{},
		metrics:   &recordingMetrics{},
	}
	settings := DefaultSettings()
	settings.CallTimeout = 2 * time.Second

	cfg := Config{
		Trips:         h.store,
		Entitlements:  h.store,
		Notifications: h.store,
		Tokens:        h.store,
		Forecasts:     h.forecasts,
		Dispatcher:    push.NewDispatcher(push.Config{Transport: h.transport, Logger: discardLogger()}),
		Outcomes:      h.store,
		Metrics:       h.metrics,
		Settings:      settings,
		WorkerID:      "test-worker",
		Clock:         types.FixedClock{T: testNow},
		Logger:        discardLogger(),
	}
	for _, fn := range mutate {
		fn(&cfg)
	}

	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.sched = s
	return h
}

// addNotifiableTrip registers a premium user with a token and a trip whose
// planned departure is stormy but clears two hours later.
func (h *harness) addNotifiableTrip(id, user string, lat float64) types.PlannedTrip {
	departure := testNow.Add(2 * time.Hour)
	trip := testTrip(id, user, lat, departure)
	h.store.addTrip(trip)
	h.store.mu.Lock()
	h.store.premium[user] = true
	h.store.tokens[user] = goodToken
	h.store.mu.Unlock()
	h.forecasts.mu.Lock()
	h.forecasts.byLat[lat] = stormThenCalm(departure.Add(2 * time.Hour))
	h.forecasts.mu.Unlock()
	return trip
}

// peer builds a second Scheduler sharing the harness stores and transport,
// standing in for another replica.
func (h *harness) peer(t *testing.T, mutate ...func(*Config)) *Scheduler {
	t.Helper()
	cfg := Config{
		Trips:         h.store,
		Entitlements:  h.store,
		Notifications: h.store,
		Tokens:        h.store,
		Forecasts:     h.forecasts,
		Dispatcher:    push.NewDispatcher(push.Config{Transport: h.transport, Logger: discardLogger()}),
		Outcomes:      h.store,
		Settings:      h.sched.settings,
		WorkerID:      "peer-worker",
		Clock:         types.FixedClock{T: testNow},
		Logger:        discardLogger(),
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New peer: %v", err)
	}
	return s
}
