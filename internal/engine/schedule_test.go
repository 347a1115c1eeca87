package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meetingalert/internal/types"
)

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Config{Deliverer: &fakeDeliverer{}, Store: &fakeStore{}})
	assert.Error(t, err)
	_, err = New(Config{Scheduler: newFakeScheduler(), Store: &fakeStore{}})
	assert.Error(t, err)
	_, err = New(Config{Scheduler: newFakeScheduler(), Deliverer: &fakeDeliverer{}})
	assert.Error(t, err)
}

func TestScheduleAlerts_BothStages(t *testing.T) {
	h := newHarness(t)
	ev := meeting("evt_1", time.Hour)

	require.NoError(t, h.engine.ScheduleAlerts(context.Background(), []types.Event{ev}, defaultSettings()))

	alerts, err := h.engine.PendingAlerts(context.Background())
	require.NoError(t, err)
	require.Len(t, alerts, 2)

	assert.Equal(t, "evt_1-1", alerts[0].ID)
	assert.Equal(t, types.Stage1, alerts[0].Stage)
	assert.True(t, alerts[0].ScheduledFireTime.Equal(ev.StartTime.Add(-600*time.Second)))
	assert.Equal(t, "evt_1-2", alerts[1].ID)
	assert.True(t, alerts[1].ScheduledFireTime.Equal(ev.StartTime.Add(-120*time.Second)))
	assert.True(t, alerts[0].ScheduledFireTime.Before(alerts[1].ScheduledFireTime))

	for _, a := range alerts {
		assert.Equal(t, 0, a.SnoozeCount)
		assert.Nil(t, a.OriginalFireTime)
		assert.Equal(t, ev.Title, a.EventTitle)
		assert.True(t, a.EventStart.Equal(ev.StartTime))

		reg, ok := h.scheduler.registered(a.ID)
		require.True(t, ok)
		assert.True(t, reg.fireAt.Equal(a.ScheduledFireTime))
	}

	assert.ElementsMatch(t, []string{"evt_1-1", "evt_1-2"}, h.store.ids())
}

func TestScheduleAlerts_SkipsPastStageOnly(t *testing.T) {
	h := newHarness(t)
	ev := meeting("evt_soon", 300*time.Second)

	require.NoError(t, h.engine.ScheduleAlerts(context.Background(), []types.Event{ev}, defaultSettings()))

	alerts, err := h.engine.PendingAlerts(context.Background())
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, types.Stage2, alerts[0].Stage)
	assert.True(t, alerts[0].ScheduledFireTime.Equal(ev.StartTime.Add(-120*time.Second)))
}

func TestScheduleAlerts_Skips(t *testing.T) {
	allDay := meeting("evt_allday", time.Hour)
	allDay.IsAllDay = true
	noLink := meeting("evt_nolink", time.Hour)
	noLink.HasMeetingLink = false

	tests := []struct {
		name  string
		event types.Event
	}{
		{"already started", meeting("evt_started", -300*time.Second)},
		{"starts now", meeting("evt_now", 0)},
		{"all day", allDay},
		{"no meeting link", noLink},
		{"both stages in the past", meeting("evt_imminent", 60*time.Second)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			require.NoError(t, h.engine.ScheduleAlerts(context.Background(), []types.Event{tt.event}, defaultSettings()))

			alerts, err := h.engine.PendingAlerts(context.Background())
			require.NoError(t, err)
			assert.Empty(t, alerts)
			assert.Zero(t, h.store.saves, "nothing changed, nothing persisted")
		})
	}
}

func TestScheduleAlerts_DisabledStage(t *testing.T) {
	h := newHarness(t)
	settings := types.AlertSettings{Stage1Minutes: 0, Stage2Minutes: 5}

	require.NoError(t, h.engine.ScheduleAlerts(context.Background(), []types.Event{meeting("evt_1", time.Hour)}, settings))

	alerts, err := h.engine.PendingAlerts(context.Background())
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, types.Stage2, alerts[0].Stage)
}

func TestReconcile_StageDisabledLaterIsRemoved(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ev := meeting("evt_1", time.Hour)
	require.NoError(t, h.engine.Reconcile(ctx, []types.Event{ev}, defaultSettings()))

	require.NoError(t, h.engine.Reconcile(ctx, []types.Event{ev}, types.AlertSettings{Stage1Minutes: 10}))

	alerts, err := h.engine.PendingAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "evt_1-1", alerts[0].ID)
	_, ok := h.scheduler.registered("evt_1-2")
	assert.False(t, ok)
	assert.Equal(t, []string{"evt_1-1"}, h.store.ids())
}

func TestScheduleAlerts_InvalidSettings(t *testing.T) {
	h := newHarness(t)
	err := h.engine.ScheduleAlerts(context.Background(), nil, types.AlertSettings{Stage1Minutes: 2, Stage2Minutes: 10})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCodeValidationInvalidSettings))
}

func TestScheduleAlerts_SkipsAcknowledged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ev := meeting("evt_1", time.Hour)

	require.NoError(t, h.engine.ScheduleAlerts(ctx, []types.Event{ev}, defaultSettings()))
	require.NoError(t, h.engine.AcknowledgeAlert(ctx, ev.ID))
	require.NoError(t, h.engine.ScheduleAlerts(ctx, []types.Event{ev}, defaultSettings()))

	alerts, err := h.engine.PendingAlerts(ctx)
	require.NoError(t, err)
	assert.Empty(t, alerts)
	assert.Empty(t, h.store.ids())
}

func TestScheduleAlerts_Idempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	events := []types.Event{meeting("evt_1", time.Hour)}

	require.NoError(t, h.engine.ScheduleAlerts(ctx, events, defaultSettings()))
	require.NoError(t, h.engine.ScheduleAlerts(ctx, events, defaultSettings()))

	assert.Equal(t, 1, h.scheduler.scheduleCalls["evt_1-1"])
	assert.Equal(t, 1, h.scheduler.scheduleCalls["evt_1-2"])
	assert.Equal(t, 1, h.store.saves)
}

func TestScheduleAlerts_EventMovedIsRescheduled(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ev := meeting("evt_1", time.Hour)
	require.NoError(t, h.engine.ScheduleAlerts(ctx, []types.Event{ev}, defaultSettings()))

	moved := ev
	moved.StartTime = ev.StartTime.Add(30 * time.Minute)
	moved.EndTime = moved.StartTime.Add(30 * time.Minute)
	require.NoError(t, h.engine.ScheduleAlerts(ctx, []types.Event{moved}, defaultSettings()))

	reg, ok := h.scheduler.registered("evt_1-1")
	require.True(t, ok)
	assert.True(t, reg.fireAt.Equal(moved.StartTime.Add(-10*time.Minute)))
	assert.Equal(t, 1, h.scheduler.cancelCalls["evt_1-1"])

	a, ok, err := h.engine.Alert(ctx, "evt_1-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, a.EventStart.Equal(moved.StartTime))
}

func TestScheduleAlerts_PreservesSnooze(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ev := meeting("evt_1", time.Hour)
	require.NoError(t, h.engine.ScheduleAlerts(ctx, []types.Event{ev}, defaultSettings()))

	h.clock.Advance(50 * time.Minute)
	h.scheduler.Fire(t, "evt_1-1")
	snoozed, err := h.engine.Snooze(ctx, "evt_1-1", 3*time.Minute)
	require.NoError(t, err)

	require.NoError(t, h.engine.ScheduleAlerts(ctx, []types.Event{ev}, defaultSettings()))

	a, ok, err := h.engine.Alert(ctx, "evt_1-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, a.Equal(snoozed))
}

func TestScheduleAlerts_SchedulerFailureKeepsRecord(t *testing.T) {
	h := newHarness(t)
	h.scheduler.scheduleErr = assert.AnError

	require.NoError(t, h.engine.ScheduleAlerts(context.Background(), []types.Event{meeting("evt_1", time.Hour)}, defaultSettings()))

	alerts, err := h.engine.PendingAlerts(context.Background())
	require.NoError(t, err)
	assert.Len(t, alerts, 2)
	assert.Len(t, h.store.ids(), 2)
}

func TestScheduleAlerts_PersistenceFailurePropagates(t *testing.T) {
	h := newHarness(t)
	h.store.saveErr = errStoreDown

	err := h.engine.ScheduleAlerts(context.Background(), []types.Event{meeting("evt_1", time.Hour)}, defaultSettings())
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCodeInternalPersistence))
	assert.ErrorIs(t, err, errStoreDown)
}

func TestScheduleAlerts_IneligibleEventDropsExistingAlerts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ev := meeting("evt_1", time.Hour)
	require.NoError(t, h.engine.ScheduleAlerts(ctx, []types.Event{ev}, defaultSettings()))

	ev.HasMeetingLink = false
	require.NoError(t, h.engine.ScheduleAlerts(ctx, []types.Event{ev}, defaultSettings()))

	alerts, err := h.engine.PendingAlerts(ctx)
	require.NoError(t, err)
	assert.Empty(t, alerts)
	_, ok := h.scheduler.registered("evt_1-1")
	assert.False(t, ok)
}

func TestReconcile_RemovesMissingEvents(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	keep := meeting("evt_keep", time.Hour)
	gone := meeting("evt_gone", 2*time.Hour)

	require.NoError(t, h.engine.Reconcile(ctx, []types.Event{keep, gone}, defaultSettings()))
	require.NoError(t, h.engine.AcknowledgeAlert(ctx, gone.ID))

	acked, err := h.engine.AcknowledgedEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"evt_gone"}, acked)

	require.NoError(t, h.engine.Reconcile(ctx, []types.Event{keep}, defaultSettings()))

	alerts, err := h.engine.PendingAlerts(ctx)
	require.NoError(t, err)
	for _, a := range alerts {
		assert.Equal(t, keep.ID, a.EventID)
	}
	acked, err = h.engine.AcknowledgedEvents(ctx)
	require.NoError(t, err)
	assert.Empty(t, acked)

	// Once the acknowledgement is cleared the event schedules again.
	require.NoError(t, h.engine.Reconcile(ctx, []types.Event{keep, gone}, defaultSettings()))
	_, ok, err := h.engine.Alert(ctx, "evt_gone-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReconcile_CancelsRegistrationsOfRemovedEvent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	gone := meeting("evt_gone", time.Hour)

	require.NoError(t, h.engine.Reconcile(ctx, []types.Event{gone}, defaultSettings()))
	require.NoError(t, h.engine.Reconcile(ctx, nil, defaultSettings()))

	_, ok := h.scheduler.registered("evt_gone-1")
	assert.False(t, ok)
	_, ok = h.scheduler.registered("evt_gone-2")
	assert.False(t, ok)
	assert.Empty(t, h.store.ids())
}

func TestCancelAlerts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.engine.ScheduleAlerts(ctx, []types.Event{meeting("evt_1", time.Hour), meeting("evt_2", time.Hour)}, defaultSettings()))

	require.NoError(t, h.engine.CancelAlerts(ctx, "evt_1"))

	assert.ElementsMatch(t, []string{"evt_2-1", "evt_2-2"}, h.store.ids())
	assert.Equal(t, 1, h.scheduler.cancelCalls["evt_1-1"])
	assert.Equal(t, 1, h.scheduler.cancelCalls["evt_1-2"])

	// Cancelled alerts never fire; the event is not acknowledged.
	acked, err := h.engine.AcknowledgedEvents(ctx)
	require.NoError(t, err)
	assert.Empty(t, acked)
	require.NoError(t, h.engine.CancelAlerts(ctx, "evt_unknown"))
}

func TestCancelAll(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.engine.ScheduleAlerts(ctx, []types.Event{meeting("evt_1", time.Hour)}, defaultSettings()))
	require.NoError(t, h.engine.AcknowledgeAlert(ctx, "evt_other"))

	require.NoError(t, h.engine.CancelAll(ctx))

	alerts, err := h.engine.PendingAlerts(ctx)
	require.NoError(t, err)
	assert.Empty(t, alerts)
	acked, err := h.engine.AcknowledgedEvents(ctx)
	require.NoError(t, err)
	assert.Empty(t, acked)
	assert.Equal(t, 1, h.scheduler.cancelAll)
	assert.Empty(t, h.store.ids())
}

func TestNextAlert(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, ok, err := h.engine.NextAlert(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, h.engine.ScheduleAlerts(ctx, []types.Event{meeting("evt_late", 3*time.Hour), meeting("evt_early", time.Hour)}, defaultSettings()))
	next, ok, err := h.engine.NextAlert(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "evt_early-1", next.ID)
}

func TestOperations_RespectContextWhileQueued(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.engine.acquire(context.Background()))
	defer h.engine.release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := h.engine.CancelAlerts(ctx, "evt_1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
