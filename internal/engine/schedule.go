package engine

import (
	"context"
	"slices"
	"time"

	"meetingalert/internal/types"
)

// ScheduleAlerts runs one scheduling pass over events.
//
// An event is skipped when it is all-day, has no meeting link, has already
// started, or was acknowledged. Each enabled stage whose fire time is not in
// the past gets an alert; a stage already in the past is skipped on its own
// without affecting later stages. Events that produce no stage are simply
// omitted.
//
// Running the pass again over the same events is a no-op: an identical
// alert keeps its registration, a snoozed alert keeps its snoozed time, and
// an alert whose event moved is re-registered at the new time.
func (e *Engine) ScheduleAlerts(ctx context.Context, events []types.Event, settings types.AlertSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	if err := e.acquire(ctx); err != nil {
		return err
	}
	defer e.release()

	if !e.scheduleLocked(ctx, events, settings) {
		return nil
	}
	return e.persistLocked(ctx)
}

// Reconcile is the steady-state entry point for each fresh sync. Alerts and
// acknowledgements of events missing from newEvents are dropped, then a
// normal scheduling pass runs over newEvents.
func (e *Engine) Reconcile(ctx context.Context, newEvents []types.Event, settings types.AlertSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	if err := e.acquire(ctx); err != nil {
		return err
	}
	defer e.release()

	present := make(map[string]struct{}, len(newEvents))
	for _, ev := range newEvents {
		present[ev.ID] = struct{}{}
	}

	changed := false
	for _, eventID := range e.trackedEventIDsLocked() {
		if _, ok := present[eventID]; ok {
			continue
		}
		if n := e.removeEventAlertsLocked(ctx, eventID); n > 0 {
			changed = true
			e.logger.InfoContext(ctx, "cancelled alerts for removed event",
				"event_id", eventID,
				"alerts", n,
			)
		}
		delete(e.acknowledged, eventID)
		delete(e.events, eventID)
	}

	if e.scheduleLocked(ctx, newEvents, settings) {
		changed = true
	}
	if !changed {
		return nil
	}
	return e.persistLocked(ctx)
}

// trackedEventIDsLocked returns every event id the engine holds state for.
func (e *Engine) trackedEventIDsLocked() []string {
	seen := make(map[string]struct{}, len(e.alerts)+len(e.acknowledged))
	ids := make([]string, 0, len(seen))
	add := func(id string) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for _, a := range e.alerts {
		add(a.EventID)
	}
	for id := range e.acknowledged {
		add(id)
	}
	for id := range e.events {
		add(id)
	}
	return ids
}

// scheduleLocked applies one scheduling pass and reports whether the table
// changed.
func (e *Engine) scheduleLocked(ctx context.Context, events []types.Event, settings types.AlertSettings) bool {
	now := e.clock.Now()
	enabled := settings.EnabledStages()
	changed := false

	for _, ev := range events {
		e.events[ev.ID] = ev

		if ev.IsAllDay || !ev.HasMeetingLink {
			// No longer eligible; drop anything scheduled while it was.
			if e.removeEventAlertsLocked(ctx, ev.ID) > 0 {
				changed = true
			}
			continue
		}
		if ev.HasStarted(now) {
			continue
		}
		if _, acked := e.acknowledged[ev.ID]; acked {
			continue
		}

		for _, stage := range types.AllStages {
			if !slices.Contains(enabled, stage) {
				if e.removeAlertLocked(ctx, types.AlertID(ev.ID, stage)) {
					changed = true
				}
				continue
			}
			if e.scheduleStageLocked(ctx, ev, stage, settings.LeadTime(stage), now) {
				changed = true
			}
		}
	}
	return changed
}

// scheduleStageLocked creates or refreshes the alert for one event stage.
func (e *Engine) scheduleStageLocked(ctx context.Context, ev types.Event, stage types.AlertStage, lead time.Duration, now time.Time) bool {
	id := types.AlertID(ev.ID, stage)
	existing, exists := e.alerts[id]

	if exists && existing.WasSnoozed() {
		return false
	}

	fireAt := ev.StartTime.Add(-lead)
	if fireAt.Before(now) {
		return false
	}

	alert := types.NewScheduledAlert(ev, stage, fireAt)
	if exists && existing.Equal(alert) {
		return false
	}
	if exists {
		e.unregisterLocked(ctx, id)
		delete(e.delivered, id)
	}

	e.alerts[id] = alert
	e.registerLocked(ctx, alert)
	e.logger.InfoContext(ctx, "alert scheduled",
		"alert_id", id,
		"event_id", ev.ID,
		"stage", stage.String(),
		"fire_at", fireAt,
		"rescheduled", exists,
	)
	return true
}
