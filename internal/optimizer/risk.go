// Package optimizer scores a planned departure against hourly forecast data
// and recommends a delay when one meaningfully lowers hazard exposure.
//
// Everything here is a pure function of its arguments. Nothing reads the wall
// clock, so identical inputs always produce identical output.
package optimizer

import (
	"fmt"
	"math"
	"time"

	"smartdelay/internal/hazard"
	"smartdelay/internal/types"
)

// SamplingMode selects which forecast sample represents a candidate delay.
type SamplingMode string

const (
	// SamplingFirst scores every candidate delay against the first forecast
	// entry. It is a single-point approximation: every candidate receives the
	// same score, so BestDelayOption never finds an improvement in this mode.
	SamplingFirst SamplingMode = "first"

	// SamplingHourly scores each candidate against the forecast hour that
	// contains departure+delay, clamped to the available range.
	SamplingHourly SamplingMode = "hourly"
)

// Valid reports whether m is a known sampling mode.
func (m SamplingMode) Valid() bool {
	return m == SamplingFirst || m == SamplingHourly
}

type options struct {
	sampling SamplingMode
}

// Option customizes risk computation.
type Option func(*options)

// WithSampling overrides the default SamplingFirst mode.
func WithSampling(mode SamplingMode) Option {
	return func(o *options) {
		if mode.Valid() {
			o.sampling = mode
		}
	}
}

// DelayOptions scores each candidate delay in 0..windowHours inclusive and
// returns them in delay order with their hazard breakdowns.
//
// It fails with an InvalidInput AppError naming the field when forecast or
// waypoints is empty, or windowHours is negative.
func DelayOptions(
	forecast []types.ForecastSample,
	waypoints []types.Waypoint,
	departure time.Time,
	windowHours int,
	opts ...Option,
) ([]types.DelayOption, error) {
	if len(forecast) == 0 {
		return nil, types.NewInvalidInput("forecast_hourly", "must not be empty")
	}
	if len(waypoints) == 0 {
		return nil, types.NewInvalidInput("waypoints", "must not be empty")
	}
	if windowHours < 0 {
		return nil, types.NewInvalidInput("window_hours", "must be >= 0")
	}

	o := options{sampling: SamplingFirst}
	for _, opt := range opts {
		opt(&o)
	}

	out := make([]types.DelayOption, 0, windowHours+1)
	for delay := 0; delay <= windowHours; delay++ {
		sample := sampleFor(forecast, departure, delay, o.sampling)
		breakdown := hazard.ScoreHazards(sample)
		out = append(out, types.DelayOption{
			DelayHours:      delay,
			RiskScore:       breakdown.TotalRisk,
			HazardBreakdown: breakdown,
		})
	}
	return out, nil
}

// ComputeDepartureRisk returns delayHours -> risk score (0-100) for every
// delay in 0..windowHours inclusive. See DelayOptions for error conditions.
func ComputeDepartureRisk(
	forecast []types.ForecastSample,
	waypoints []types.Waypoint,
	departure time.Time,
	windowHours int,
	opts ...Option,
) (map[int]float64, error) {
	delayOpts, err := DelayOptions(forecast, waypoints, departure, windowHours, opts...)
	if err != nil {
		return nil, err
	}
	scores := make(map[int]float64, len(delayOpts))
	for _, d := range delayOpts {
		scores[d.DelayHours] = d.RiskScore
	}
	return scores, nil
}

// sampleFor picks the representative sample for a candidate delay.
func sampleFor(forecast []types.ForecastSample, departure time.Time, delayHours int, mode SamplingMode) types.ForecastSample {
	if mode != SamplingHourly {
		return forecast[0]
	}

	// Latest sample whose hour has started by the target instant. Samples are
	// assumed sorted by time; a target before the first sample uses the first.
	target := departure.Add(time.Duration(delayHours) * time.Hour)
	idx := 0
	for i, s := range forecast {
		if s.Time.After(target) {
			break
		}
		idx = i
	}
	return forecast[idx]
}

// minPlannedRisk guards the improvement division when the planned risk is
// zero or near zero.
const minPlannedRisk = 0.1

// ImprovementPct is the relative risk reduction of candidate versus planned,
// in percent.
func ImprovementPct(planned, candidate float64) float64 {
	return (planned - candidate) / math.Max(planned, minPlannedRisk) * 100
}

// BestDelayOption selects the recommended delay from a risk map.
//
// The planned risk is riskScores[0]. Delays 1..maxDelay are scanned in order
// and a candidate replaces the current best only when its improvement is
// strictly greater, so ties keep the earliest delay hour. A nil result means
// no delay qualifies: either the best improvement is below
// thresholdPct or no candidate improves on the planned departure at all.
// Delay 0 is never recommended.
//
// It fails with InvalidInput when riskScores is empty or lacks delay 0,
// thresholdPct is outside [0,100], or maxDelay is negative.
func BestDelayOption(riskScores map[int]float64, thresholdPct float64, maxDelay int) (*types.BestDelayResult, error) {
	if len(riskScores) == 0 {
		return nil, types.NewInvalidInput("risk_scores", "must not be empty")
	}
	if math.IsNaN(thresholdPct) || thresholdPct < 0 || thresholdPct > 100 {
		return nil, types.NewInvalidInput("threshold_improvement_pct", "must be within [0, 100]")
	}
	if maxDelay < 0 {
		return nil, types.NewInvalidInput("max_delay", "must be >= 0")
	}
	planned, ok := riskScores[0]
	if !ok {
		return nil, types.NewInvalidInput("risk_scores", "missing planned departure (delay 0)")
	}

	bestDelay := 0
	bestImprovement := 0.0
	bestRisk := planned
	for delay := 1; delay <= maxDelay; delay++ {
		risk, ok := riskScores[delay]
		if !ok {
			continue
		}
		improvement := ImprovementPct(planned, risk)
		if improvement > bestImprovement {
			bestDelay = delay
			bestImprovement = improvement
			bestRisk = risk
		}
	}

	if bestDelay == 0 || bestImprovement < thresholdPct {
		return nil, nil
	}

	// The message is formatted from the rounded value so it matches what
	// the dispatcher renders from ImprovementPct.
	rounded := math.Round(bestImprovement*10) / 10
	return &types.BestDelayResult{
		BestDelayHours: bestDelay,
		PlannedRisk:    planned,
		BestRisk:       bestRisk,
		ImprovementPct: rounded,
		Message:        FormatMessage(bestDelay, rounded),
	}, nil
}

// FormatMessage renders the user-facing recommendation. The percentage is
// rounded to the nearest multiple of 5.
func FormatMessage(delayHours int, improvementPct float64) string {
	rounded := int(math.Round(improvementPct/5) * 5)
	return fmt.Sprintf("Delay %dh avoids ~%d%% hazards", delayHours, rounded)
}
