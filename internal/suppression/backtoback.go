package suppression

import (
	"context"
	"sync"
	"time"

	"meetingalert/internal/engine"
	"meetingalert/internal/types"
)

// BackToBackDetector decides whether an alerted meeting follows directly on
// one the user is already in. It works from the latest event snapshot handed
// to Update.
type BackToBackDetector struct {
	gap   time.Duration
	clock types.Clock

	mu     sync.RWMutex
	events []types.Event
}

// NewBackToBackDetector creates a detector that treats a meeting ending
// within gap of the next one's start as back-to-back.
func NewBackToBackDetector(gap time.Duration, clock types.Clock) *BackToBackDetector {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &BackToBackDetector{gap: gap, clock: clock}
}

// Update replaces the event snapshot.
func (d *BackToBackDetector) Update(events []types.Event) {
	cp := make([]types.Event, len(events))
	copy(cp, events)

	d.mu.Lock()
	d.events = cp
	d.mu.Unlock()
}

// Context returns the back-to-back situation for next at the clock's
// current time. When several meetings are in progress, the one ending last
// is the current meeting.
func (d *BackToBackDetector) Context(next types.Event) types.BackToBackAlertContext {
	now := d.clock.Now()

	d.mu.RLock()
	defer d.mu.RUnlock()

	var current *types.Event
	for i := range d.events {
		ev := d.events[i]
		if ev.ID == next.ID || ev.IsAllDay || !ev.IsInProgress(now) {
			continue
		}
		if current == nil || ev.EndTime.After(current.EndTime) {
			current = &ev
		}
	}
	if current == nil {
		return types.BackToBackAlertContext{}
	}

	return types.BackToBackAlertContext{
		IsInMeeting:    true,
		IsBackToBack:   next.StartTime.Sub(current.EndTime) <= d.gap,
		CurrentMeeting: current,
	}
}

// Provider adapts the detector to the engine's provider signature.
func (d *BackToBackDetector) Provider() engine.BackToBackContextProvider {
	return func(_ context.Context, ev types.Event) types.BackToBackAlertContext {
		return d.Context(ev)
	}
}
