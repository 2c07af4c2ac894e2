package types

import (
	"time"
)

// Waypoint is a single point on a trip's route.
type Waypoint struct {
	Lat  float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lon  float64 `json:"lon" validate:"gte=-180,lte=180"`
	Name string  `json:"name,omitempty" validate:"max=200"`
}

// PlannedTrip is a user's intended departure along a route.
//
// NextCheckAt is nil until the trip is scheduled; registration sets it to the
// creation instant so the first evaluation happens on the next tick. After
// that only the scheduler moves it, and only forward.
type PlannedTrip struct {
	TripID                string     `json:"trip_id" db:"trip_id" validate:"required,max=100"`
	UserID                string     `json:"user_id" db:"user_id" validate:"required,max=100"`
	RouteWaypoints        Route      `json:"route_waypoints" db:"route_waypoints" validate:"required,min=1,dive"`
	PlannedDepartureLocal time.Time  `json:"planned_departure_local" db:"planned_departure_local" validate:"required"`
	UserTimezone          string     `json:"user_timezone" db:"user_timezone" validate:"required,timezone"`
	DestinationName       string     `json:"destination_name,omitempty" db:"destination_name" validate:"max=200"`
	CreatedAt             time.Time  `json:"created_at" db:"created_at"`
	NextCheckAt           *time.Time `json:"next_check_at,omitempty" db:"next_check_at"`
	LastAlertAt           *time.Time `json:"last_alert_at,omitempty" db:"last_alert_at"`
}

// FirstWaypoint returns the representative forecast point for the trip.
// Callers must have validated that the route is non-empty.
func (t *PlannedTrip) FirstWaypoint() Waypoint {
	return t.RouteWaypoints[0]
}

// DepartureIn returns the planned departure expressed in the user's timezone.
// If the timezone cannot be loaded the instant is returned unchanged.
func (t *PlannedTrip) DepartureIn() time.Time {
	loc, err := time.LoadLocation(t.UserTimezone)
	if err != nil {
		return t.PlannedDepartureLocal
	}
	return t.PlannedDepartureLocal.In(loc)
}

// PushToken is a device identity for push delivery. A user may hold several;
// the scheduler uses only the most recently registered one.
type PushToken struct {
	UserID       string     `json:"user_id" db:"user_id" validate:"required"`
	Token        string     `json:"token" db:"token" validate:"required,max=255,expo_token"`
	DeviceID     string     `json:"device_id,omitempty" db:"device_id"`
	RegisteredAt time.Time  `json:"registered_at" db:"registered_at"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
}

// AlertType identifies the kind of push alert that was sent.
type AlertType string

const (
	AlertTypeSmartDelay AlertType = "smart_delay"
)

// SmartDelayNotification is the append-only record of a sent alert. A row
// with SentAt inside the cooldown window for a (user, trip) pair suppresses
// further sends for that pair.
type SmartDelayNotification struct {
	NotificationID string    `json:"notification_id" db:"notification_id"`
	UserID         string    `json:"user_id" db:"user_id"`
	TripID         string    `json:"trip_id" db:"trip_id"`
	AlertType      AlertType `json:"alert_type" db:"alert_type"`
	Title          string    `json:"title" db:"title"`
	Body           string    `json:"body" db:"body"`
	DelayHours     int       `json:"delay_hours" db:"delay_hours"`
	ImprovementPct float64   `json:"improvement_pct" db:"improvement_pct"`
	SentAt         time.Time `json:"sent_at" db:"sent_at"`
}

// ForecastSample is one hourly entry returned by the forecast source.
type ForecastSample struct {
	Time         time.Time `json:"time"`
	WindKPH      float64   `json:"wind_kph"`
	PrecipMM     float64   `json:"precip_mm"`
	TempC        float64   `json:"temp_c"`
	SevereAlerts []string  `json:"severe_alerts,omitempty"`
}

// HazardBreakdown holds the four 0-100 hazard sub-scores. TotalRisk is their
// arithmetic mean.
type HazardBreakdown struct {
	Wind          float64 `json:"wind"`
	Precipitation float64 `json:"precipitation"`
	Temperature   float64 `json:"temperature"`
	SevereAlert   float64 `json:"severe_alert"`
	TotalRisk     float64 `json:"total_risk"`
}

// DelayOption is one scored candidate delay. Not persisted.
type DelayOption struct {
	DelayHours      int             `json:"delay_hours"`
	RiskScore       float64         `json:"risk_score"`
	HazardBreakdown HazardBreakdown `json:"hazard_breakdown"`
}

// BestDelayResult is the optimizer's recommendation. It only exists when a
// non-zero delay clears the improvement threshold.
type BestDelayResult struct {
	BestDelayHours int     `json:"best_delay_hours"`
	PlannedRisk    float64 `json:"planned_risk"`
	BestRisk       float64 `json:"best_risk"`
	ImprovementPct float64 `json:"improvement_pct"`
	Message        string  `json:"message"`
}

// Subscription is a user's billing state as mirrored into the local
// subscriptions table through PUT /ops/users/{userID}/subscription.
type Subscription struct {
	UserID           string             `json:"user_id" db:"user_id"`
	Plan             PlanTier           `json:"plan" db:"plan"`
	Status           SubscriptionStatus `json:"status" db:"status"`
	CurrentPeriodEnd *time.Time         `json:"current_period_end,omitempty" db:"current_period_end"`
	UpdatedAt        time.Time          `json:"updated_at" db:"updated_at"`
}

// JobRun is one row of the job_history table: a single scheduler tick.
type JobRun struct {
	ID         int64      `json:"id" db:"id"`
	JobType    string     `json:"job_type" db:"job_type"`
	StartedAt  time.Time  `json:"started_at" db:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty" db:"finished_at"`
	Status     string     `json:"status" db:"status"`
	Items      int        `json:"items" db:"items_count"`
	Error      *string    `json:"error,omitempty" db:"error"`
}
