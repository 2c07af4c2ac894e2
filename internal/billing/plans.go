// Package billing maps subscription state to product entitlements.
package billing

import "smartdelay/internal/types"

// PlanFeatures lists what a tier unlocks.
type PlanFeatures struct {
	SmartDelay bool // departure-delay push alerts
}

// PlanRegistry defines the authoritative features for each tier.
type PlanRegistry interface {
	// GetFeatures returns the features for the given tier. Unknown tiers get
	// the Free features so a bad row fails closed.
	GetFeatures(tier types.PlanTier) PlanFeatures
}

type staticPlanRegistry struct {
	features map[types.PlanTier]PlanFeatures
}

// planDefaults is the built-in tier table:
//
//	| Plan     | Smart delay |
//	|----------|-------------|
//	| Free     | No          |
//	| Plus     | Yes         |
//	| Pro      | Yes         |
//	| Lifetime | Yes         |
var planDefaults = map[types.PlanTier]PlanFeatures{
	types.PlanFree:     {SmartDelay: false},
	types.PlanPlus:     {SmartDelay: true},
	types.PlanPro:      {SmartDelay: true},
	types.PlanLifetime: {SmartDelay: true},
}

var freeFeatures = planDefaults[types.PlanFree]

// NewStaticPlanRegistry returns a PlanRegistry backed by the built-in tier table.
func NewStaticPlanRegistry() PlanRegistry {
	m := make(map[types.PlanTier]PlanFeatures, len(planDefaults))
	for k, v := range planDefaults {
		m[k] = v
	}
	return &staticPlanRegistry{features: m}
}

func (r *staticPlanRegistry) GetFeatures(tier types.PlanTier) PlanFeatures {
	if f, ok := r.features[tier]; ok {
		return f
	}
	return freeFeatures
}
