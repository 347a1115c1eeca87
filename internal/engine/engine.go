// Package engine implements the alert scheduling and delivery core.
//
// The Engine owns the authoritative table of pending alerts and the set of
// acknowledged events. Every externally visible operation runs as one unit of
// work on a single serialized context; a caller queues until the previous
// operation has finished, including its persistence write. Collaborators
// (timers, storage, delivery, suppression state) are reached through the
// ports declared in ports.go.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"meetingalert/internal/types"
)

// Config holds the collaborators of an Engine.
type Config struct {
	Scheduler Scheduler
	Deliverer Deliverer
	Store     AlertStore
	Clock     types.Clock
	Logger    *slog.Logger
}

// Engine is the alert scheduling state machine. Create it with New.
type Engine struct {
	scheduler Scheduler
	deliverer Deliverer
	store     AlertStore
	clock     types.Clock
	logger    *slog.Logger

	// sem serializes all access to the fields below it.
	sem chan struct{}

	alerts       map[string]types.ScheduledAlert
	acknowledged map[string]struct{}
	// events holds the most recent copy of every event seen by a scheduling
	// pass; the back-to-back provider is evaluated against it.
	events map[string]types.Event
	// delivered maps an alert id to the fire time it was dispatched for.
	delivered  map[string]time.Time
	relaunched bool

	presentation PresentationModeProvider
	backToBack   BackToBackContextProvider
}

// New validates cfg and returns an Engine with an empty table.
func New(cfg Config) (*Engine, error) {
	if cfg.Scheduler == nil {
		return nil, errors.New("engine: scheduler is nil")
	}
	if cfg.Deliverer == nil {
		return nil, errors.New("engine: deliverer is nil")
	}
	if cfg.Store == nil {
		return nil, errors.New("engine: store is nil")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		scheduler:    cfg.Scheduler,
		deliverer:    cfg.Deliverer,
		store:        cfg.Store,
		clock:        clock,
		logger:       logger.With("component", "alert_engine"),
		sem:          make(chan struct{}, 1),
		alerts:       make(map[string]types.ScheduledAlert),
		acknowledged: make(map[string]struct{}),
		events:       make(map[string]types.Event),
		delivered:    make(map[string]time.Time),
	}, nil
}

// acquire enters the serialized context, or gives up when ctx ends first.
func (e *Engine) acquire(ctx context.Context) error {
	select {
	case e.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) release() {
	<-e.sem
}

// SetPresentationModeProvider installs the presentation-mode provider.
// Passing nil clears it, which disables that suppression tier.
func (e *Engine) SetPresentationModeProvider(ctx context.Context, p PresentationModeProvider) error {
	if err := e.acquire(ctx); err != nil {
		return err
	}
	defer e.release()
	e.presentation = p
	return nil
}

// SetBackToBackContextProvider installs the back-to-back provider. Passing
// nil clears it.
func (e *Engine) SetBackToBackContextProvider(ctx context.Context, p BackToBackContextProvider) error {
	if err := e.acquire(ctx); err != nil {
		return err
	}
	defer e.release()
	e.backToBack = p
	return nil
}

// PendingAlerts returns every tracked alert ordered by fire time.
func (e *Engine) PendingAlerts(ctx context.Context) ([]types.ScheduledAlert, error) {
	if err := e.acquire(ctx); err != nil {
		return nil, err
	}
	defer e.release()
	return e.snapshotLocked(), nil
}

// Alert returns the tracked alert with the given id.
func (e *Engine) Alert(ctx context.Context, alertID string) (types.ScheduledAlert, bool, error) {
	if err := e.acquire(ctx); err != nil {
		return types.ScheduledAlert{}, false, err
	}
	defer e.release()
	a, ok := e.alerts[alertID]
	return a, ok, nil
}

// NextAlert returns the earliest alert that has not fired yet.
func (e *Engine) NextAlert(ctx context.Context) (types.ScheduledAlert, bool, error) {
	if err := e.acquire(ctx); err != nil {
		return types.ScheduledAlert{}, false, err
	}
	defer e.release()

	now := e.clock.Now()
	for _, a := range e.snapshotLocked() {
		if a.ScheduledFireTime.After(now) {
			return a, true, nil
		}
	}
	return types.ScheduledAlert{}, false, nil
}

// AcknowledgedEvents returns the acknowledged event ids in sorted order.
func (e *Engine) AcknowledgedEvents(ctx context.Context) ([]string, error) {
	if err := e.acquire(ctx); err != nil {
		return nil, err
	}
	defer e.release()

	ids := make([]string, 0, len(e.acknowledged))
	for id := range e.acknowledged {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// snapshotLocked returns the table ordered by fire time, then id.
func (e *Engine) snapshotLocked() []types.ScheduledAlert {
	out := make([]types.ScheduledAlert, 0, len(e.alerts))
	for _, a := range e.alerts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledFireTime.Equal(out[j].ScheduledFireTime) {
			return out[i].ScheduledFireTime.Before(out[j].ScheduledFireTime)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// persistLocked writes the whole table. A failure is returned to the caller
// as an internal_persistence_error; the mutation is not complete until the
// write succeeds.
func (e *Engine) persistLocked(ctx context.Context) error {
	if err := e.store.Save(ctx, e.snapshotLocked()); err != nil {
		e.logger.ErrorContext(ctx, "failed to persist alert table",
			"alerts", len(e.alerts),
			"error", err,
		)
		return persistenceError("failed to persist alerts", err)
	}
	return nil
}

// persistenceError wraps a store failure as internal_persistence_error. A
// store that already reports an AppError is passed through as is.
func persistenceError(msg string, err error) error {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return types.NewAppError(types.ErrCodeInternalPersistence, msg, err)
}

// registerLocked arms the scheduler for a. A scheduler failure leaves the
// record in the table so the wake path can still recover it.
func (e *Engine) registerLocked(ctx context.Context, a types.ScheduledAlert) {
	alertID, fireAt := a.ID, a.ScheduledFireTime
	onFire := func(fireCtx context.Context) {
		e.dispatch(fireCtx, alertID, fireAt)
	}
	if err := e.scheduler.Schedule(ctx, alertID, fireAt, onFire); err != nil {
		e.logger.WarnContext(ctx, "scheduler registration failed, alert degraded to wake-path recovery",
			"alert_id", alertID,
			"fire_at", fireAt,
			"error", err,
		)
	}
}

// unregisterLocked cancels a's scheduler registration.
func (e *Engine) unregisterLocked(ctx context.Context, alertID string) {
	if err := e.scheduler.Cancel(ctx, alertID); err != nil {
		e.logger.WarnContext(ctx, "scheduler cancellation failed",
			"alert_id", alertID,
			"error", err,
		)
	}
}

// removeAlertLocked unregisters and forgets one alert.
func (e *Engine) removeAlertLocked(ctx context.Context, alertID string) bool {
	if _, ok := e.alerts[alertID]; !ok {
		return false
	}
	e.unregisterLocked(ctx, alertID)
	delete(e.alerts, alertID)
	delete(e.delivered, alertID)
	return true
}

// removeEventAlertsLocked removes every stage of eventID and returns how many
// records were dropped.
func (e *Engine) removeEventAlertsLocked(ctx context.Context, eventID string) int {
	removed := 0
	for id, a := range e.alerts {
		if a.EventID != eventID {
			continue
		}
		if e.removeAlertLocked(ctx, id) {
			removed++
		}
	}
	return removed
}

// eventForLocked returns the latest known event for a, falling back to the
// alert's denormalized fields.
func (e *Engine) eventForLocked(a types.ScheduledAlert) types.Event {
	if ev, ok := e.events[a.EventID]; ok {
		return ev
	}
	return types.Event{
		ID:             a.EventID,
		Title:          a.EventTitle,
		StartTime:      a.EventStart,
		EndTime:        a.EventStart,
		HasMeetingLink: true,
	}
}
