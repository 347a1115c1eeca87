package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"meetingalert/internal/types"
)

// --- Clock ---

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// --- Scheduler ---

type registration struct {
	fireAt time.Time
	onFire FireFunc
}

type fakeScheduler struct {
	mu            sync.Mutex
	registrations map[string]registration
	scheduleCalls map[string]int
	cancelCalls   map[string]int
	cancelAll     int
	scheduleErr   error
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{
		registrations: make(map[string]registration),
		scheduleCalls: make(map[string]int),
		cancelCalls:   make(map[string]int),
	}
}

func (s *fakeScheduler) Schedule(_ context.Context, alertID string, fireAt time.Time, onFire FireFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduleCalls[alertID]++
	if s.scheduleErr != nil {
		return s.scheduleErr
	}
	s.registrations[alertID] = registration{fireAt: fireAt, onFire: onFire}
	return nil
}

func (s *fakeScheduler) Cancel(_ context.Context, alertID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelCalls[alertID]++
	delete(s.registrations, alertID)
	return nil
}

func (s *fakeScheduler) CancelAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelAll++
	s.registrations = make(map[string]registration)
	return nil
}

// Fire consumes the registration for alertID and runs its callback, the
// way a real backend does when the fire time arrives.
func (s *fakeScheduler) Fire(t *testing.T, alertID string) {
	t.Helper()
	s.mu.Lock()
	reg, ok := s.registrations[alertID]
	delete(s.registrations, alertID)
	s.mu.Unlock()
	require.True(t, ok, "no registration for %s", alertID)
	reg.onFire(context.Background())
}

func (s *fakeScheduler) registered(alertID string) (registration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.registrations[alertID]
	return r, ok
}

// --- Deliverer ---

type delivery struct {
	alert  types.ScheduledAlert
	reason types.AlertDowngradeReason // empty for normal delivery
}

type fakeDeliverer struct {
	mu         sync.Mutex
	deliveries []delivery
}

func (d *fakeDeliverer) Deliver(_ context.Context, alert types.ScheduledAlert) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deliveries = append(d.deliveries, delivery{alert: alert})
	return nil
}

func (d *fakeDeliverer) DeliverDowngraded(_ context.Context, alert types.ScheduledAlert, reason types.AlertDowngradeReason) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deliveries = append(d.deliveries, delivery{alert: alert, reason: reason})
	return nil
}

func (d *fakeDeliverer) all() []delivery {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]delivery(nil), d.deliveries...)
}

// --- Store ---

type fakeStore struct {
	mu      sync.Mutex
	alerts  []types.ScheduledAlert
	saves   int
	saveErr error
	loadErr error
}

func (s *fakeStore) Save(_ context.Context, alerts []types.ScheduledAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	s.alerts = append([]types.ScheduledAlert(nil), alerts...)
	return nil
}

func (s *fakeStore) Load(_ context.Context) ([]types.ScheduledAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return append([]types.ScheduledAlert(nil), s.alerts...), nil
}

func (s *fakeStore) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.alerts))
	for _, a := range s.alerts {
		ids = append(ids, a.ID)
	}
	return ids
}

var errStoreDown = errors.New("disk full")

// --- Harness ---

var testNow = time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)

type harness struct {
	engine    *Engine
	clock     *fakeClock
	scheduler *fakeScheduler
	deliverer *fakeDeliverer
	store     *fakeStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock:     &fakeClock{now: testNow},
		scheduler: newFakeScheduler(),
		deliverer: &fakeDeliverer{},
		store:     &fakeStore{},
	}
	eng, err := New(Config{
		Scheduler: h.scheduler,
		Deliverer: h.deliverer,
		Store:     h.store,
		Clock:     h.clock,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	h.engine = eng
	return h
}

func meeting(id string, startsIn time.Duration) types.Event {
	start := testNow.Add(startsIn)
	return types.Event{
		ID:             id,
		CalendarID:     "cal_primary",
		Title:          "Meeting " + id,
		StartTime:      start,
		EndTime:        start.Add(30 * time.Minute),
		HasMeetingLink: true,
	}
}

func defaultSettings() types.AlertSettings {
	return types.DefaultAlertSettings()
}
