// Package timer provides the in-process scheduling backend and the
// sleep/wake detector used by the daemon.
//
// Timers here run on the process clock and do not survive a restart or
// reliably fire across system sleep; the engine's relaunch and wake paths
// cover both cases.
package timer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"meetingalert/internal/engine"
)

// ErrClosed is returned by Schedule after Close.
var ErrClosed = errors.New("timer: scheduler closed")

type entry struct {
	t      *time.Timer
	fireAt time.Time
	gen    uint64
}

// Scheduler implements engine.Scheduler with one time.AfterFunc per alert.
type Scheduler struct {
	mu      sync.Mutex
	entries map[string]entry
	gen     uint64
	closed  bool

	// base is handed to every callback; Close cancels it.
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

var _ engine.Scheduler = (*Scheduler)(nil)

// NewScheduler creates an empty Scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		entries: make(map[string]entry),
		base:    base,
		cancel:  cancel,
		logger:  logger.With("component", "timer_scheduler"),
	}
}

// Schedule arms alertID to call onFire at fireAt. A fire time in the past
// fires immediately on a new goroutine. Any previous registration of
// alertID is replaced.
func (s *Scheduler) Schedule(_ context.Context, alertID string, fireAt time.Time, onFire engine.FireFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if old, ok := s.entries[alertID]; ok {
		old.t.Stop()
	}

	s.gen++
	gen := s.gen
	s.entries[alertID] = entry{
		fireAt: fireAt,
		gen:    gen,
		t: time.AfterFunc(time.Until(fireAt), func() {
			s.fire(alertID, gen, onFire)
		}),
	}
	return nil
}

// fire claims the registration and runs the callback. A timer that lost a
// race with Cancel or a replacing Schedule finds a different generation and
// does nothing.
func (s *Scheduler) fire(alertID string, gen uint64, onFire engine.FireFunc) {
	s.mu.Lock()
	cur, ok := s.entries[alertID]
	if !ok || cur.gen != gen || s.closed {
		s.mu.Unlock()
		return
	}
	delete(s.entries, alertID)
	s.wg.Add(1)
	s.mu.Unlock()

	defer s.wg.Done()
	s.logger.Debug("timer fired", "alert_id", alertID, "late_by", time.Since(cur.fireAt))
	onFire(s.base)
}

// Cancel stops alertID's timer. Unknown ids are ignored.
func (s *Scheduler) Cancel(_ context.Context, alertID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[alertID]; ok {
		e.t.Stop()
		delete(s.entries, alertID)
	}
	return nil
}

// CancelAll stops every pending timer.
func (s *Scheduler) CancelAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.entries {
		e.t.Stop()
		delete(s.entries, id)
	}
	return nil
}

// Pending returns the number of armed timers.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close stops all timers, cancels the callback context and waits for
// callbacks already running to return.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	for id, e := range s.entries {
		e.t.Stop()
		delete(s.entries, id)
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}
