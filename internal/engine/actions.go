package engine

import (
	"context"
	"fmt"
	"time"

	"meetingalert/internal/types"
)

// Snooze re-arms alertID to fire again after d.
//
// It fails with not_found_alert for an unknown id, with
// conflict_meeting_already_started once the meeting has begun, and with
// validation_snooze_past_meeting_start when now+d would land at or after the
// meeting start. The replacement record carries SnoozeCount+1 and the first
// ever fire time as OriginalFireTime.
func (e *Engine) Snooze(ctx context.Context, alertID string, d time.Duration) (types.ScheduledAlert, error) {
	if d <= 0 {
		return types.ScheduledAlert{}, types.NewAppError(types.ErrCodeValidationSnoozeDuration,
			fmt.Sprintf("snooze duration must be positive, got %s", d), nil)
	}
	if err := e.acquire(ctx); err != nil {
		return types.ScheduledAlert{}, err
	}
	defer e.release()

	alert, ok := e.alerts[alertID]
	if !ok {
		return types.ScheduledAlert{}, types.NewAppError(types.ErrCodeNotFoundAlert,
			"alert not found", nil).WithDetails(map[string]any{"alert_id": alertID})
	}

	now := e.clock.Now()
	if !now.Before(alert.EventStart) {
		return types.ScheduledAlert{}, types.NewAppError(types.ErrCodeConflictMeetingStarted,
			"meeting has already started", nil).WithDetails(map[string]any{
			"alert_id":    alertID,
			"event_start": alert.EventStart,
		})
	}
	fireAt := now.Add(d)
	if !fireAt.Before(alert.EventStart) {
		return types.ScheduledAlert{}, types.NewAppError(types.ErrCodeValidationSnoozePastStart,
			"snooze would end at or after the meeting start", nil).WithDetails(map[string]any{
			"alert_id":     alertID,
			"snooze_until": fireAt,
			"event_start":  alert.EventStart,
		})
	}

	e.unregisterLocked(ctx, alertID)
	next := alert.Snoozed(fireAt)
	e.alerts[alertID] = next
	delete(e.delivered, alertID)
	e.registerLocked(ctx, next)

	e.logger.InfoContext(ctx, "alert snoozed",
		"alert_id", alertID,
		"event_id", next.EventID,
		"fire_at", fireAt,
		"snooze_count", next.SnoozeCount,
	)

	if err := e.persistLocked(ctx); err != nil {
		return types.ScheduledAlert{}, err
	}
	return next, nil
}

// CancelAlerts removes and unregisters every stage of eventID.
func (e *Engine) CancelAlerts(ctx context.Context, eventID string) error {
	if err := e.acquire(ctx); err != nil {
		return err
	}
	defer e.release()

	n := e.removeEventAlertsLocked(ctx, eventID)
	if n == 0 {
		return nil
	}
	e.logger.InfoContext(ctx, "alerts cancelled", "event_id", eventID, "alerts", n)
	return e.persistLocked(ctx)
}

// AcknowledgeAlert cancels every stage of eventID and suppresses future
// scheduling for it until the event disappears from a Reconcile call.
func (e *Engine) AcknowledgeAlert(ctx context.Context, eventID string) error {
	if err := e.acquire(ctx); err != nil {
		return err
	}
	defer e.release()

	e.acknowledged[eventID] = struct{}{}
	n := e.removeEventAlertsLocked(ctx, eventID)
	e.logger.InfoContext(ctx, "event acknowledged", "event_id", eventID, "alerts", n)
	if n == 0 {
		return nil
	}
	return e.persistLocked(ctx)
}

// CancelAll drops every registration, alert and acknowledgement, then
// persists the empty table.
func (e *Engine) CancelAll(ctx context.Context) error {
	if err := e.acquire(ctx); err != nil {
		return err
	}
	defer e.release()

	if err := e.scheduler.CancelAll(ctx); err != nil {
		e.logger.WarnContext(ctx, "scheduler cancel-all failed", "error", err)
	}
	n := len(e.alerts)
	e.alerts = make(map[string]types.ScheduledAlert)
	e.acknowledged = make(map[string]struct{})
	e.delivered = make(map[string]time.Time)
	e.logger.InfoContext(ctx, "all alerts cancelled", "alerts", n)
	return e.persistLocked(ctx)
}
