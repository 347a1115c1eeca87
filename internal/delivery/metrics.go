package delivery

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"meetingalert/internal/engine"
	"meetingalert/internal/types"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for
// testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// InstrumentedDeliverer wraps a sink and publishes one PutMetricData call
// per delivery:
//
//   - AlertDelivered or AlertDowngraded: Dims {Stage[, Reason]}
//   - AlertDeliveryFailed: Dims {Sink, Stage} when the sink errors
//   - AlertDeliveryLatency: Dims {Sink}, milliseconds
//
// Metric failures are logged and never affect delivery.
type InstrumentedDeliverer struct {
	next      engine.Deliverer
	sink      string
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

var _ engine.Deliverer = (*InstrumentedDeliverer)(nil)

// NewInstrumentedDeliverer wraps next, labelling its metrics with sink.
// An empty namespace falls back to types.MetricNamespace.
func NewInstrumentedDeliverer(next engine.Deliverer, sink string, client CloudWatchClient, namespace string, logger *slog.Logger) *InstrumentedDeliverer {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InstrumentedDeliverer{
		next:      next,
		sink:      sink,
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

func (d *InstrumentedDeliverer) Deliver(ctx context.Context, alert types.ScheduledAlert) error {
	start := time.Now()
	err := d.next.Deliver(ctx, alert)
	d.record(ctx, alert, "", err, time.Since(start))
	return err
}

func (d *InstrumentedDeliverer) DeliverDowngraded(ctx context.Context, alert types.ScheduledAlert, reason types.AlertDowngradeReason) error {
	start := time.Now()
	err := d.next.DeliverDowngraded(ctx, alert, reason)
	d.record(ctx, alert, reason, err, time.Since(start))
	return err
}

func (d *InstrumentedDeliverer) record(ctx context.Context, alert types.ScheduledAlert, reason types.AlertDowngradeReason, deliverErr error, elapsed time.Duration) {
	stage := dim(types.DimStage, alert.Stage.String())
	sink := dim(types.DimSink, d.sink)

	var outcome cwtypes.MetricDatum
	switch {
	case deliverErr != nil:
		outcome = count(types.MetricDeliveryFailed, sink, stage)
	case reason != "":
		outcome = count(types.MetricAlertDowngraded, stage, dim(types.DimReason, string(reason)))
	default:
		outcome = count(types.MetricAlertDelivered, stage)
	}

	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(d.namespace),
		MetricData: []cwtypes.MetricDatum{
			outcome,
			{
				MetricName: aws.String(types.MetricDeliveryLatency),
				Value:      aws.Float64(float64(elapsed.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
				Dimensions: []cwtypes.Dimension{sink},
			},
		},
	}
	if _, err := d.client.PutMetricData(ctx, input); err != nil {
		d.logger.ErrorContext(ctx, "failed to record delivery metrics",
			"error", err.Error(),
			"alert_id", alert.ID,
			"sink", d.sink,
		)
	}
}

// RecordMissed publishes a MissedAlert count for one wake-path
// classification.
func RecordMissed(ctx context.Context, client CloudWatchClient, namespace string, result types.MissedAlertResult) error {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	_, err := client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(namespace),
		MetricData: []cwtypes.MetricDatum{
			count(types.MetricMissedAlert,
				dim(types.DimStage, result.Alert.Stage.String()),
				dim(types.DimReason, string(result.Kind)),
			),
		},
	})
	return err
}

func dim(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}

func count(metric string, dims ...cwtypes.Dimension) cwtypes.MetricDatum {
	return cwtypes.MetricDatum{
		MetricName: aws.String(metric),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: dims,
	}
}
