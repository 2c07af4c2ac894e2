package types

// TripState is the evaluation state a trip lands in after one pass of the
// scheduler. The state is derived from persisted fields and gate results; it
// is not stored, but it selects the reschedule interval and is reported in
// logs and metrics.
type TripState string

const (
	// StateAwaitingEvaluation: next_check_at <= now and departure is inside
	// the lookahead horizon. Every trip starts a tick in this state.
	StateAwaitingEvaluation TripState = "awaiting_evaluation"

	StateNotEntitled            TripState = "not_entitled"
	StateInCooldown             TripState = "in_cooldown"
	StateNoForecast             TripState = "no_forecast"
	StateEvaluatedNoImprovement TripState = "evaluated_no_improvement"
	StateNoPushToken            TripState = "no_push_token"
	StateInvalidToken           TripState = "invalid_token"
	StateDeliveryFailed         TripState = "delivery_failed"
	StateNotified               TripState = "notified"

	// StateInvalidTrip covers persisted rows that fail validation (empty
	// route, unknown timezone) and optimizer InvalidInput failures.
	StateInvalidTrip TripState = "invalid_trip"
)

// AllTripStates lists every terminal state in a stable order.
var AllTripStates = []TripState{
	StateNotEntitled,
	StateInCooldown,
	StateNoForecast,
	StateEvaluatedNoImprovement,
	StateNoPushToken,
	StateInvalidToken,
	StateDeliveryFailed,
	StateNotified,
	StateInvalidTrip,
}

// PlanTier represents a subscription plan level.
type PlanTier string

const (
	PlanFree     PlanTier = "free"
	PlanPlus     PlanTier = "plus"
	PlanPro      PlanTier = "pro"
	PlanLifetime PlanTier = "lifetime"
)

// SubscriptionStatus mirrors the status column of the subscriptions table.
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionTrialing SubscriptionStatus = "trialing"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionCanceled SubscriptionStatus = "canceled"
)
