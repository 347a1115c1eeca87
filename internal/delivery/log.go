// Package delivery provides the sinks that show a fired alert to the user:
// a structured-log sink, a signed webhook sink, a fan-out combinator and a
// CloudWatch-instrumented wrapper.
package delivery

import (
	"context"
	"log/slog"

	"meetingalert/internal/engine"
	"meetingalert/internal/types"
)

var _ engine.Deliverer = (*LogDeliverer)(nil)

// LogDeliverer writes each alert as a structured log line. It is the
// default sink when no webhook is configured.
type LogDeliverer struct {
	logger *slog.Logger
}

// NewLogDeliverer creates a LogDeliverer.
func NewLogDeliverer(logger *slog.Logger) *LogDeliverer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogDeliverer{logger: logger.With("component", "log_sink")}
}

func (d *LogDeliverer) Deliver(ctx context.Context, alert types.ScheduledAlert) error {
	d.logger.InfoContext(ctx, "meeting alert",
		alertAttrs(alert)...,
	)
	return nil
}

func (d *LogDeliverer) DeliverDowngraded(ctx context.Context, alert types.ScheduledAlert, reason types.AlertDowngradeReason) error {
	d.logger.InfoContext(ctx, "meeting alert (downgraded)",
		append(alertAttrs(alert), "reason", string(reason))...,
	)
	return nil
}

func alertAttrs(a types.ScheduledAlert) []any {
	return []any{
		"alert_id", a.ID,
		"event_id", a.EventID,
		"title", a.EventTitle,
		"stage", a.Stage.Label(),
		"starts_at", a.EventStart,
		"snooze_count", a.SnoozeCount,
	}
}
