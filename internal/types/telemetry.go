package types

// CloudWatch metric names and dimensions. All components MUST use these
// constants.
const (
	MetricAlertDelivered  = "AlertDelivered"
	MetricAlertDowngraded = "AlertDowngraded"
	MetricDeliveryFailed  = "AlertDeliveryFailed"
	MetricDeliveryLatency = "AlertDeliveryLatency"
	MetricMissedAlert     = "MissedAlert"

	DimStage  = "Stage"
	DimReason = "Reason"
	DimSink   = "Sink"

	MetricNamespace = "MeetingAlert"
)
