package scheduler

import (
	"time"

	"smartdelay/internal/types"
)

// ReschedulePolicy maps each terminal trip state to how far next_check_at
// moves past the tick time. Every interval is positive, so the next check is
// always strictly after now.
type ReschedulePolicy struct {
	intervals map[types.TripState]time.Duration
}

// DefaultReschedulePolicy returns the standard intervals. notEntitled sets
// the re-check delay for users without the premium entitlement.
//
//	| State                    | Interval      |
//	|--------------------------|---------------|
//	| in_cooldown              | 30m           |
//	| evaluated_no_improvement | 1h            |
//	| no_forecast              | 1h            |
//	| no_push_token            | 1h            |
//	| invalid_token            | 1h            |
//	| invalid_trip             | 1h            |
//	| delivery_failed          | 15m           |
//	| notified                 | 2h            |
//	| not_entitled             | notEntitled   |
func DefaultReschedulePolicy(notEntitled time.Duration) ReschedulePolicy {
	if notEntitled <= 0 {
		notEntitled = time.Hour
	}
	return ReschedulePolicy{intervals: map[types.TripState]time.Duration{
		types.StateInCooldown:             30 * time.Minute,
		types.StateEvaluatedNoImprovement: time.Hour,
		types.StateNoForecast:             time.Hour,
		types.StateNoPushToken:            time.Hour,
		types.StateInvalidToken:           time.Hour,
		types.StateInvalidTrip:            time.Hour,
		types.StateDeliveryFailed:         15 * time.Minute,
		types.StateNotified:               2 * time.Hour,
		types.StateNotEntitled:            notEntitled,
	}}
}

// Interval returns the reschedule delay for state. Unknown states get the
// longest failure interval.
func (p ReschedulePolicy) Interval(state types.TripState) time.Duration {
	if d, ok := p.intervals[state]; ok && d > 0 {
		return d
	}
	return time.Hour
}

// NextCheck returns now plus the interval for state.
func (p ReschedulePolicy) NextCheck(state types.TripState, now time.Time) time.Time {
	return now.Add(p.Interval(state))
}

// Shortest returns the smallest reschedule interval in the policy.
func (p ReschedulePolicy) Shortest() time.Duration {
	shortest := time.Duration(0)
	for _, d := range p.intervals {
		if d > 0 && (shortest == 0 || d < shortest) {
			shortest = d
		}
	}
	return shortest
}
