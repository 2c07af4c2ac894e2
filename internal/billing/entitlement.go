package billing

import (
	"context"
	"log/slog"
	"time"

	"smartdelay/internal/types"
)

// SubscriptionReader is the read side of the subscriptions table.
type SubscriptionReader interface {
	// GetSubscription returns nil, nil when the user has no subscription.
	GetSubscription(ctx context.Context, userID string) (*types.Subscription, error)
}

// EntitlementConfig holds the dependencies of an EntitlementService.
type EntitlementConfig struct {
	Subscriptions SubscriptionReader
	Plans         PlanRegistry
	Clock         types.Clock
	Logger        *slog.Logger
}

// EntitlementService answers whether a user may receive smart-delay alerts.
type EntitlementService struct {
	subs   SubscriptionReader
	plans  PlanRegistry
	clock  types.Clock
	logger *slog.Logger
}

// NewEntitlementService creates an EntitlementService. Plans defaults to the
// static registry and Clock to the real clock.
func NewEntitlementService(cfg EntitlementConfig) *EntitlementService {
	plans := cfg.Plans
	if plans == nil {
		plans = NewStaticPlanRegistry()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &EntitlementService{subs: cfg.Subscriptions, plans: plans, clock: clock, logger: logger}
}

// IsPremium reports whether the user's plan carries the smart-delay feature
// and the subscription is in good standing now.
//
// Active and trialing subscriptions qualify. A past_due subscription keeps
// access until its current period ends. Canceled never qualifies, and
// neither does a user with no subscription row.
func (s *EntitlementService) IsPremium(ctx context.Context, userID string) (bool, error) {
	return s.IsPremiumAt(ctx, userID, s.clock.Now())
}

// IsPremiumAt is IsPremium evaluated at instant at. The scheduler passes its
// tick time so a replayed tick judges the past_due grace period at the
// replayed instant, not the wall clock.
func (s *EntitlementService) IsPremiumAt(ctx context.Context, userID string, at time.Time) (bool, error) {
	sub, err := s.subs.GetSubscription(ctx, userID)
	if err != nil {
		return false, err
	}
	if sub == nil {
		return false, nil
	}
	if !s.plans.GetFeatures(sub.Plan).SmartDelay {
		return false, nil
	}
	return inGoodStanding(sub, at), nil
}

func inGoodStanding(sub *types.Subscription, now time.Time) bool {
	switch sub.Status {
	case types.SubscriptionActive, types.SubscriptionTrialing:
		return true
	case types.SubscriptionPastDue:
		return sub.CurrentPeriodEnd != nil && now.Before(*sub.CurrentPeriodEnd)
	default:
		return false
	}
}
