package engine

import (
	"context"
	"time"

	"meetingalert/internal/types"
)

// FireFunc is the callback a Scheduler invokes when a registration comes due.
type FireFunc func(ctx context.Context)

// Scheduler fires a callback at a wall-clock time, keyed by alert id.
//
// Implementations must invoke onFire at or after fireAt, at most once per
// registration, unless the registration is cancelled first. Registering an
// id that is already registered replaces the earlier registration. onFire
// must run on its own goroutine, never from inside Schedule.
type Scheduler interface {
	Schedule(ctx context.Context, alertID string, fireAt time.Time, onFire FireFunc) error
	Cancel(ctx context.Context, alertID string) error
	CancelAll(ctx context.Context) error
}

// Deliverer shows alerts to the user. It is a sink: the engine logs a
// returned error but never changes its behavior because of it.
type Deliverer interface {
	Deliver(ctx context.Context, alert types.ScheduledAlert) error
	DeliverDowngraded(ctx context.Context, alert types.ScheduledAlert, reason types.AlertDowngradeReason) error
}

// AlertStore durably holds the full set of pending alerts. Save replaces the
// stored set with exactly the given alerts.
type AlertStore interface {
	Save(ctx context.Context, alerts []types.ScheduledAlert) error
	Load(ctx context.Context) ([]types.ScheduledAlert, error)
}

// PresentationModeProvider reports whether the user is presenting (screen
// sharing or Do Not Disturb) and, if so, which reason applies.
type PresentationModeProvider func(ctx context.Context) (types.AlertDowngradeReason, bool)

// BackToBackContextProvider describes the user's meeting situation relative
// to the event an alert belongs to.
type BackToBackContextProvider func(ctx context.Context, event types.Event) types.BackToBackAlertContext
