package types

// Telemetry metric names for CloudWatch.
// All components MUST use these constants.
const (
	// Metric Names
	MetricTripOutcome   = "TripOutcome"
	MetricTickDue       = "TickDueTrips"
	MetricTickProcessed = "TickProcessedTrips"
	MetricTickSkipped   = "TickSkippedTrips"
	MetricTickErrors    = "TickErrors"

	// Dimension Keys
	DimOutcome = "Outcome"

	// Metric Namespace
	MetricNamespace = "SmartDelay"
)
