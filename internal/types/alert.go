package types

import (
	"fmt"
	"time"
)

// AlertStage identifies one of the two ordered warning points before a
// meeting. Stage1 is always the earlier warning.
type AlertStage int

const (
	Stage1 AlertStage = 1 // early warning
	Stage2 AlertStage = 2 // urgent reminder
)

// AllStages lists the stages in firing order.
var AllStages = []AlertStage{Stage1, Stage2}

// DefaultMinutes returns the stage's default lead time before meeting start.
func (s AlertStage) DefaultMinutes() int {
	switch s {
	case Stage1:
		return 10
	case Stage2:
		return 2
	default:
		return 0
	}
}

// Label returns the human-facing name of the stage.
func (s AlertStage) Label() string {
	switch s {
	case Stage1:
		return "Early warning"
	case Stage2:
		return "Urgent reminder"
	default:
		return fmt.Sprintf("Stage %d", int(s))
	}
}

// String implements fmt.Stringer.
func (s AlertStage) String() string {
	return fmt.Sprintf("stage%d", int(s))
}

// Valid reports whether s is one of the known stages.
func (s AlertStage) Valid() bool {
	return s == Stage1 || s == Stage2
}

// AlertID derives the stable alert identifier for an event stage.
func AlertID(eventID string, stage AlertStage) string {
	return fmt.Sprintf("%s-%d", eventID, int(stage))
}

// ScheduledAlert is one pending interruption. Records are replaced, never
// mutated in place, so a table of them can be persisted wholesale.
type ScheduledAlert struct {
	ID                string     `json:"id"`
	EventID           string     `json:"event_id"`
	Stage             AlertStage `json:"stage"`
	ScheduledFireTime time.Time  `json:"scheduled_fire_time"`
	SnoozeCount       int        `json:"snooze_count"`
	OriginalFireTime  *time.Time `json:"original_fire_time,omitempty"`

	// Denormalized from the owning event so delivery never has to resolve it.
	EventTitle string    `json:"event_title"`
	EventStart time.Time `json:"event_start"`
}

// NewScheduledAlert builds the initial record for an event stage.
func NewScheduledAlert(ev Event, stage AlertStage, fireAt time.Time) ScheduledAlert {
	return ScheduledAlert{
		ID:                AlertID(ev.ID, stage),
		EventID:           ev.ID,
		Stage:             stage,
		ScheduledFireTime: fireAt,
		EventTitle:        ev.Title,
		EventStart:        ev.StartTime,
	}
}

// WasSnoozed reports whether the alert has been snoozed at least once.
func (a ScheduledAlert) WasSnoozed() bool {
	return a.SnoozeCount > 0
}

// Snoozed returns the replacement record for a snooze that fires at fireAt.
// OriginalFireTime is captured on the first snooze and carried unchanged
// through every later one.
func (a ScheduledAlert) Snoozed(fireAt time.Time) ScheduledAlert {
	next := a
	if a.OriginalFireTime == nil {
		orig := a.ScheduledFireTime
		next.OriginalFireTime = &orig
	} else {
		orig := *a.OriginalFireTime
		next.OriginalFireTime = &orig
	}
	next.ScheduledFireTime = fireAt
	next.SnoozeCount = a.SnoozeCount + 1
	return next
}

// Equal reports whether every field of a and b matches.
func (a ScheduledAlert) Equal(b ScheduledAlert) bool {
	if a.ID != b.ID || a.EventID != b.EventID || a.Stage != b.Stage ||
		a.SnoozeCount != b.SnoozeCount || a.EventTitle != b.EventTitle {
		return false
	}
	if !a.ScheduledFireTime.Equal(b.ScheduledFireTime) || !a.EventStart.Equal(b.EventStart) {
		return false
	}
	switch {
	case a.OriginalFireTime == nil && b.OriginalFireTime == nil:
		return true
	case a.OriginalFireTime == nil || b.OriginalFireTime == nil:
		return false
	default:
		return a.OriginalFireTime.Equal(*b.OriginalFireTime)
	}
}

// AlertDowngradeReason explains why an alert was delivered in a less
// intrusive form. It is produced at fire time only and never stored.
type AlertDowngradeReason string

const (
	DowngradeScreenSharing     AlertDowngradeReason = "screen_sharing"
	DowngradeDoNotDisturb      AlertDowngradeReason = "do_not_disturb"
	DowngradeBackToBackMeeting AlertDowngradeReason = "back_to_back_meeting"
)

// MissedAlertKind classifies an alert found overdue during recovery.
type MissedAlertKind string

const (
	// MissedFireNow: the meeting has not started yet.
	MissedFireNow MissedAlertKind = "fire_now"
	// MissedMeetingJustStarted: the meeting started inside the grace window.
	MissedMeetingJustStarted MissedAlertKind = "meeting_just_started"
	// MissedTooOld: the meeting started at least a grace window ago.
	MissedTooOld MissedAlertKind = "too_old"
)

// MissedAlertGraceWindow is how long after meeting start a missed alert is
// still worth surfacing.
const MissedAlertGraceWindow = 5 * time.Minute

// MissedAlertResult is the outcome of classifying one overdue alert.
type MissedAlertResult struct {
	Kind  MissedAlertKind
	Alert ScheduledAlert
}

// ShouldDeliver reports whether the missed alert is still shown.
func (r MissedAlertResult) ShouldDeliver() bool {
	return r.Kind == MissedFireNow || r.Kind == MissedMeetingJustStarted
}

// ClassifyMissedAlert decides how an overdue alert is handled at now. The
// grace boundary is inclusive: a meeting that started exactly
// MissedAlertGraceWindow ago is too old.
func ClassifyMissedAlert(a ScheduledAlert, now time.Time) MissedAlertResult {
	switch {
	case now.Before(a.EventStart):
		return MissedAlertResult{Kind: MissedFireNow, Alert: a}
	case now.Sub(a.EventStart) < MissedAlertGraceWindow:
		return MissedAlertResult{Kind: MissedMeetingJustStarted, Alert: a}
	default:
		return MissedAlertResult{Kind: MissedTooOld, Alert: a}
	}
}

// BackToBackAlertContext is a snapshot of the user's meeting situation
// supplied by the back-to-back provider.
type BackToBackAlertContext struct {
	IsInMeeting    bool
	IsBackToBack   bool
	CurrentMeeting *Event
}

// ShouldDowngrade reports whether the context calls for a back-to-back
// downgrade: the user is in a meeting that runs straight into the next one.
func (c BackToBackAlertContext) ShouldDowngrade() bool {
	return c.IsInMeeting && c.IsBackToBack
}
