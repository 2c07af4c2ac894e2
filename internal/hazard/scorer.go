// Package hazard converts raw forecast fields into normalized 0-100 hazard
// sub-scores.
//
// The scores are step functions rather than continuous curves. Gust and
// precipitation data are noisy enough that finer gradations would imply
// precision the inputs do not have. Inputs are not range-checked; callers
// sanitize upstream.
package hazard

import (
	"math"

	"smartdelay/internal/types"
)

// Wind thresholds in km/h.
const (
	windModerateKPH = 20.0
	windStrongKPH   = 40.0
	windSevereKPH   = 60.0
)

// Precipitation thresholds in mm.
const (
	precipLightMM    = 1.0
	precipModerateMM = 5.0
	precipHeavyMM    = 15.0
)

// Temperature thresholds in Celsius.
const (
	tempCoolC   = 5.0
	tempFreezeC = 0.0
	tempSevereC = -10.0
)

// alertWeight is the score contributed by each active severe alert.
const alertWeight = 30.0

// WindScore maps wind speed to a sub-score: <20 -> 0, [20,40) -> 30,
// [40,60) -> 60, >=60 -> 100.
func WindScore(kph float64) float64 {
	switch {
	case kph >= windSevereKPH:
		return 100
	case kph >= windStrongKPH:
		return 60
	case kph >= windModerateKPH:
		return 30
	default:
		return 0
	}
}

// PrecipitationScore maps hourly precipitation to a sub-score: <1 -> 0,
// [1,5) -> 40, [5,15) -> 70, >=15 -> 100.
func PrecipitationScore(mm float64) float64 {
	switch {
	case mm >= precipHeavyMM:
		return 100
	case mm >= precipModerateMM:
		return 70
	case mm >= precipLightMM:
		return 40
	default:
		return 0
	}
}

// TemperatureScore maps temperature to a sub-score: >5 -> 0, (0,5] -> 20,
// (-10,0] -> 50, <=-10 -> 100.
func TemperatureScore(c float64) float64 {
	switch {
	case c > tempCoolC:
		return 0
	case c > tempFreezeC:
		return 20
	case c > tempSevereC:
		return 50
	default:
		return 100
	}
}

// AlertScore is min(100, count*30), or 0 with no alerts.
func AlertScore(count int) float64 {
	if count <= 0 {
		return 0
	}
	return math.Min(100, float64(count)*alertWeight)
}

// ScoreHazards computes the four sub-scores for one forecast sample.
// TotalRisk is their unweighted mean.
func ScoreHazards(s types.ForecastSample) types.HazardBreakdown {
	b := types.HazardBreakdown{
		Wind:          WindScore(s.WindKPH),
		Precipitation: PrecipitationScore(s.PrecipMM),
		Temperature:   TemperatureScore(s.TempC),
		SevereAlert:   AlertScore(len(s.SevereAlerts)),
	}
	b.TotalRisk = (b.Wind + b.Precipitation + b.Temperature + b.SevereAlert) / 4
	return b
}
