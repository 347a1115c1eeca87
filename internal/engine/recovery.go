package engine

import (
	"context"
	"fmt"

	"meetingalert/internal/types"
)

// CheckForMissedAlerts handles alerts whose fire time passed without the
// scheduler invoking them, typically after system sleep.
//
// Every overdue alert is classified against its meeting start, delivered
// when still actionable (fire_now, meeting_just_started) and removed from the
// table in all cases. Alerts that were already dispatched for their current
// fire time are removed without a second delivery. Alerts not yet due are
// left alone.
func (e *Engine) CheckForMissedAlerts(ctx context.Context) ([]types.MissedAlertResult, error) {
	if err := e.acquire(ctx); err != nil {
		return nil, err
	}
	defer e.release()

	now := e.clock.Now()
	var results []types.MissedAlertResult

	for _, alert := range e.snapshotLocked() {
		if !alert.ScheduledFireTime.Before(now) {
			// Sorted by fire time: nothing after this is overdue.
			break
		}

		result := types.ClassifyMissedAlert(alert, now)
		results = append(results, result)

		at, alreadyShown := e.delivered[alert.ID]
		alreadyShown = alreadyShown && at.Equal(alert.ScheduledFireTime)

		e.removeAlertLocked(ctx, alert.ID)

		e.logger.InfoContext(ctx, "missed alert recovered",
			"alert_id", alert.ID,
			"event_id", alert.EventID,
			"classification", string(result.Kind),
			"overdue", now.Sub(alert.ScheduledFireTime),
			"already_shown", alreadyShown,
		)

		if result.ShouldDeliver() && !alreadyShown {
			e.deliverLocked(ctx, alert)
		}
	}

	if len(results) == 0 {
		return nil, nil
	}
	if err := e.persistLocked(ctx); err != nil {
		return results, err
	}
	return results, nil
}

// ReconcileOnRelaunch restores the table from the store after a process
// start. It runs at most once per Engine; later calls return (0, nil).
//
// Records still in the future are re-registered with the scheduler; records
// already due are dropped without delivery. Ids already present in memory
// win over their stored copies. It returns the number of alerts re-armed.
func (e *Engine) ReconcileOnRelaunch(ctx context.Context) (int, error) {
	if err := e.acquire(ctx); err != nil {
		return 0, err
	}
	defer e.release()

	if e.relaunched {
		return 0, nil
	}

	stored, err := e.store.Load(ctx)
	if err != nil {
		return 0, persistenceError("failed to load persisted alerts", err)
	}
	e.relaunched = true

	now := e.clock.Now()
	rearmed, dropped := 0, 0
	for _, alert := range stored {
		if _, ok := e.alerts[alert.ID]; ok {
			continue
		}
		if !alert.ScheduledFireTime.After(now) {
			dropped++
			continue
		}
		e.alerts[alert.ID] = alert
		e.registerLocked(ctx, alert)
		rearmed++
	}

	e.logger.InfoContext(ctx, "relaunch recovery complete",
		"stored", len(stored),
		"rearmed", rearmed,
		"dropped", dropped,
	)

	if err := e.persistLocked(ctx); err != nil {
		return rearmed, fmt.Errorf("relaunch recovery: %w", err)
	}
	return rearmed, nil
}
