package scheduler

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"smartdelay/internal/types"
)

// OutcomeMetrics observes reschedule branches so operators can see why
// trips are being pushed back.
type OutcomeMetrics interface {
	RecordOutcome(ctx context.Context, state types.TripState)
	RecordTick(ctx context.Context, result TickResult)
}

// NoopMetrics discards everything. Used when metrics are disabled.
type NoopMetrics struct{}

func (NoopMetrics) RecordOutcome(context.Context, types.TripState) {}
func (NoopMetrics) RecordTick(context.Context, TickResult)         {}

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

var _ OutcomeMetrics = (*CloudWatchOutcomeMetrics)(nil)

// CloudWatchOutcomeMetrics emits:
//   - TripOutcome: Dims {Outcome} -- once per evaluated trip
//   - TickDueTrips, TickSkippedTrips, TickErrors: no dims -- once per tick
//
// Publishing failures are logged and swallowed; metrics never fail a tick.
type CloudWatchOutcomeMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewCloudWatchOutcomeMetrics creates a publisher for the given namespace.
func NewCloudWatchOutcomeMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchOutcomeMetrics {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchOutcomeMetrics{client: client, namespace: namespace, logger: logger}
}

// RecordOutcome emits one TripOutcome count with the Outcome dimension.
func (m *CloudWatchOutcomeMetrics) RecordOutcome(ctx context.Context, state types.TripState) {
	m.put(ctx, []cwtypes.MetricDatum{{
		MetricName: aws.String(types.MetricTripOutcome),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{{
			Name:  aws.String(types.DimOutcome),
			Value: aws.String(string(state)),
		}},
	}})
}

// RecordTick emits the per-tick gauges in one call. Ticks skipped because
// another worker held the slot are not recorded.
func (m *CloudWatchOutcomeMetrics) RecordTick(ctx context.Context, result TickResult) {
	if result.Locked {
		return
	}
	m.put(ctx, []cwtypes.MetricDatum{
		{MetricName: aws.String(types.MetricTickDue), Value: aws.Float64(float64(result.Due)), Unit: cwtypes.StandardUnitCount},
		{MetricName: aws.String(types.MetricTickProcessed), Value: aws.Float64(float64(result.Processed)), Unit: cwtypes.StandardUnitCount},
		{MetricName: aws.String(types.MetricTickSkipped), Value: aws.Float64(float64(result.Skipped)), Unit: cwtypes.StandardUnitCount},
		{MetricName: aws.String(types.MetricTickErrors), Value: aws.Float64(float64(len(result.Errors))), Unit: cwtypes.StandardUnitCount},
	})
}

func (m *CloudWatchOutcomeMetrics) put(ctx context.Context, data []cwtypes.MetricDatum) {
	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	})
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to publish metrics",
			"error", err,
			"metric", aws.ToString(data[0].MetricName),
		)
	}
}
