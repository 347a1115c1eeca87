package engine

import (
	"context"
	"time"

	"meetingalert/internal/types"
)

// dispatch is the scheduler callback for alertID registered at fireAt. The
// record stays in the table afterwards so that a fired alert can still be
// snoozed.
func (e *Engine) dispatch(ctx context.Context, alertID string, fireAt time.Time) {
	if err := e.acquire(ctx); err != nil {
		e.logger.WarnContext(ctx, "alert dispatch abandoned", "alert_id", alertID, "error", err)
		return
	}
	defer e.release()

	alert, ok := e.alerts[alertID]
	if !ok {
		// Cancelled while the callback was in flight.
		e.logger.DebugContext(ctx, "fired alert no longer tracked", "alert_id", alertID)
		return
	}
	if !alert.ScheduledFireTime.Equal(fireAt) {
		// A snooze or reschedule replaced this registration.
		e.logger.DebugContext(ctx, "stale alert registration fired",
			"alert_id", alertID,
			"registered_for", fireAt,
			"current_fire_at", alert.ScheduledFireTime,
		)
		return
	}
	if at, done := e.delivered[alertID]; done && at.Equal(fireAt) {
		return
	}

	// A timer can fire long after its time on resume, before the wake check
	// has run. Such an alert gets the wake path's treatment: dropped once the
	// meeting is past its grace window.
	now := e.clock.Now()
	if result := types.ClassifyMissedAlert(alert, now); !result.ShouldDeliver() {
		e.removeAlertLocked(ctx, alertID)
		e.logger.InfoContext(ctx, "late alert dropped",
			"alert_id", alertID,
			"event_id", alert.EventID,
			"classification", string(result.Kind),
			"overdue", now.Sub(fireAt),
		)
		_ = e.persistLocked(ctx)
		return
	}

	e.deliverLocked(ctx, alert)
	e.delivered[alertID] = alert.ScheduledFireTime
}

// deliverLocked evaluates suppression against live state and hands the
// alert to the delivery port. Presentation mode outranks back-to-back; at
// most one downgrade reason is reported.
func (e *Engine) deliverLocked(ctx context.Context, alert types.ScheduledAlert) {
	logger := e.logger.With("alert_id", alert.ID, "event_id", alert.EventID, "stage", alert.Stage.String())

	if reason, ok := e.downgradeReasonLocked(ctx, alert); ok {
		logger.InfoContext(ctx, "delivering downgraded alert", "reason", string(reason))
		if err := e.deliverer.DeliverDowngraded(ctx, alert, reason); err != nil {
			logger.ErrorContext(ctx, "downgraded delivery failed", "error", err)
		}
		return
	}

	logger.InfoContext(ctx, "delivering alert")
	if err := e.deliverer.Deliver(ctx, alert); err != nil {
		logger.ErrorContext(ctx, "delivery failed", "error", err)
	}
}

func (e *Engine) downgradeReasonLocked(ctx context.Context, alert types.ScheduledAlert) (types.AlertDowngradeReason, bool) {
	if e.presentation != nil {
		if reason, ok := e.presentation(ctx); ok {
			return reason, true
		}
	}
	if e.backToBack != nil {
		if e.backToBack(ctx, e.eventForLocked(alert)).ShouldDowngrade() {
			return types.DowngradeBackToBackMeeting, true
		}
	}
	return "", false
}
