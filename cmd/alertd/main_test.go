package main

import (
	"context"
	"errors"
	"log/slog"
	"net/netip"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meetingalert/internal/config"
	"meetingalert/internal/delivery"
	"meetingalert/internal/security"
	"meetingalert/internal/types"
)

func TestNewLogger(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		level   string
		debugOn bool
		infoOn  bool
		warnOn  bool
	}{
		{level: "debug", debugOn: true, infoOn: true, warnOn: true},
		{level: "info", infoOn: true, warnOn: true},
		{level: "warn", warnOn: true},
		{level: "error"},
		{level: "bogus", infoOn: true, warnOn: true},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			l := newLogger(tt.level)
			assert.Equal(t, tt.debugOn, l.Enabled(ctx, slog.LevelDebug))
			assert.Equal(t, tt.infoOn, l.Enabled(ctx, slog.LevelInfo))
			assert.Equal(t, tt.warnOn, l.Enabled(ctx, slog.LevelWarn))
			assert.True(t, l.Enabled(ctx, slog.LevelError))
		})
	}
}

func localConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Environment: "local",
		LogLevel:    "info",
		Alerts: config.AlertsConfig{
			Stages:            types.AlertSettings{Stage1Minutes: 10, Stage2Minutes: 2},
			DefaultSnooze:     time.Minute,
			WakeCheckInterval: 30 * time.Second,
			BackToBackGap:     5 * time.Minute,
		},
		Store: config.StoreConfig{
			Backend:  config.StoreFile,
			FilePath: filepath.Join(t.TempDir(), "alerts.snapshot"),
		},
		Scheduler: config.SchedulerConfig{Backend: config.SchedulerTimer},
		Delivery: config.DeliveryConfig{
			WebhookPlatform: "generic",
			WebhookTimeout:  time.Second,
		},
		Observability: config.ObservabilityConfig{MetricNamespace: "MeetingAlertTest"},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestWire_LocalBackends(t *testing.T) {
	for _, backend := range []string{config.StoreMemory, config.StoreFile} {
		t.Run(backend, func(t *testing.T) {
			cfg := localConfig(t)
			cfg.Store.Backend = backend

			d, err := wire(context.Background(), cfg, discardLogger())
			require.NoError(t, err)
			defer d.close()

			assert.NotNil(t, d.engine)
			assert.Nil(t, d.sqs)
			assert.Nil(t, d.metrics)
			assert.Empty(t, d.probes)
			assert.Len(t, d.closers, 1, "timer scheduler must be closed on exit")

			restored, err := d.engine.ReconcileOnRelaunch(context.Background())
			require.NoError(t, err)
			assert.Zero(t, restored)
		})
	}
}

func TestWire_FileStoreSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	cfg := localConfig(t)

	d, err := wire(ctx, cfg, discardLogger())
	require.NoError(t, err)
	_, err = d.engine.ReconcileOnRelaunch(ctx)
	require.NoError(t, err)

	start := time.Now().Add(time.Hour)
	ev := types.Event{
		ID:             "evt-1",
		Title:          "Planning",
		StartTime:      start,
		EndTime:        start.Add(30 * time.Minute),
		HasMeetingLink: true,
	}
	require.NoError(t, d.engine.ScheduleAlerts(ctx, []types.Event{ev}, cfg.Alerts.Stages))
	d.close()

	d2, err := wire(ctx, cfg, discardLogger())
	require.NoError(t, err)
	defer d2.close()

	restored, err := d2.engine.ReconcileOnRelaunch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, restored)
}

func TestWire_UnknownBackends(t *testing.T) {
	cfg := localConfig(t)
	cfg.Store.Backend = "tape"
	_, err := wire(context.Background(), cfg, discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown store backend "tape"`)

	cfg = localConfig(t)
	cfg.Scheduler.Backend = "cron"
	_, err = wire(context.Background(), cfg, discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown scheduler backend "cron"`)
}

type recordingCloudWatch struct {
	mu     sync.Mutex
	inputs []*cloudwatch.PutMetricDataInput
	err    error
}

func (c *recordingCloudWatch) PutMetricData(_ context.Context, in *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inputs = append(c.inputs, in)
	return &cloudwatch.PutMetricDataOutput{}, c.err
}

func (c *recordingCloudWatch) calls() []*cloudwatch.PutMetricDataInput {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*cloudwatch.PutMetricDataInput(nil), c.inputs...)
}

func TestBuildDeliverer(t *testing.T) {
	t.Run("log only", func(t *testing.T) {
		sinks := buildDeliverer(localConfig(t), nil, discardLogger())
		require.Len(t, sinks, 1)
		assert.IsType(t, &delivery.LogDeliverer{}, sinks[0])
	})

	t.Run("log and webhook", func(t *testing.T) {
		cfg := localConfig(t)
		cfg.Delivery.WebhookURL = "https://hooks.example.com/alerts"
		sinks := buildDeliverer(cfg, nil, discardLogger())
		require.Len(t, sinks, 2)
		assert.IsType(t, &delivery.LogDeliverer{}, sinks[0])
		assert.IsType(t, &delivery.WebhookDeliverer{}, sinks[1])
	})

	t.Run("instrumented", func(t *testing.T) {
		cfg := localConfig(t)
		cfg.Delivery.WebhookURL = "https://hooks.example.com/alerts"
		cw := &recordingCloudWatch{}
		sinks := buildDeliverer(cfg, cw, discardLogger())
		require.Len(t, sinks, 2)
		for _, s := range sinks {
			assert.IsType(t, &delivery.InstrumentedDeliverer{}, s)
		}
	})
}

type fakeChecker struct {
	results []types.MissedAlertResult
	err     error
}

func (f *fakeChecker) CheckForMissedAlerts(context.Context) ([]types.MissedAlertResult, error) {
	return f.results, f.err
}

func TestMissedChecker(t *testing.T) {
	ctx := context.Background()
	results := []types.MissedAlertResult{
		{Kind: types.MissedFireNow, Alert: types.ScheduledAlert{ID: "a1", Stage: types.Stage1}},
		{Kind: types.MissedTooOld, Alert: types.ScheduledAlert{ID: "a2", Stage: types.Stage2}},
	}

	t.Run("publishes one metric per result", func(t *testing.T) {
		cw := &recordingCloudWatch{}
		check := missedChecker(&fakeChecker{results: results}, cw, "MeetingAlertTest", discardLogger())

		got, err := check(ctx)
		require.NoError(t, err)
		assert.Equal(t, results, got)

		calls := cw.calls()
		require.Len(t, calls, 2)
		assert.Equal(t, "MeetingAlertTest", aws.ToString(calls[0].Namespace))
		assert.Equal(t, types.MetricMissedAlert, aws.ToString(calls[0].MetricData[0].MetricName))
	})

	t.Run("metric failure does not fail the check", func(t *testing.T) {
		cw := &recordingCloudWatch{err: errors.New("throttled")}
		check := missedChecker(&fakeChecker{results: results}, cw, "", discardLogger())

		got, err := check(ctx)
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("metrics disabled", func(t *testing.T) {
		check := missedChecker(&fakeChecker{results: results}, nil, "", discardLogger())
		got, err := check(ctx)
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("engine error", func(t *testing.T) {
		boom := errors.New("boom")
		cw := &recordingCloudWatch{}
		check := missedChecker(&fakeChecker{err: boom}, cw, "", discardLogger())

		_, err := check(ctx)
		require.ErrorIs(t, err, boom)
		assert.Empty(t, cw.calls())
	})
}

type staticResolver map[string]string

func (r staticResolver) LookupNetIP(_ context.Context, _, host string) ([]netip.Addr, error) {
	ip, ok := r[host]
	if !ok {
		return nil, errors.New("no such host")
	}
	return []netip.Addr{netip.MustParseAddr(ip)}, nil
}

func TestCheckWebhookURL(t *testing.T) {
	guard := &security.Guard{
		Resolver: staticResolver{
			"hooks.example.com":    "93.184.216.34",
			"internal.example.com": "10.0.0.9",
		},
		DNSTimeout: time.Second,
	}
	ctx := context.Background()

	tests := []struct {
		name    string
		dc      config.DeliveryConfig
		wantErr bool
	}{
		{"no webhook", config.DeliveryConfig{}, false},
		{"public receiver", config.DeliveryConfig{WebhookURL: "https://hooks.example.com/a"}, false},
		{"private receiver", config.DeliveryConfig{WebhookURL: "https://internal.example.com/a"}, true},
		{"loopback literal", config.DeliveryConfig{WebhookURL: "http://127.0.0.1:9000/a"}, true},
		{"private allowed", config.DeliveryConfig{WebhookURL: "http://127.0.0.1:9000/a", AllowPrivate: true}, false},
		{"unresolvable only warns", config.DeliveryConfig{WebhookURL: "https://gone.example.com/a"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkWebhookURL(ctx, tt.dc, guard, discardLogger())
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, security.ErrBlocked)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestWebhookClient(t *testing.T) {
	guarded := webhookClient(config.DeliveryConfig{WebhookTimeout: 3 * time.Second, MaxRedirects: 2})
	assert.Equal(t, 3*time.Second, guarded.Timeout)
	assert.NotNil(t, guarded.CheckRedirect)
	assert.NotNil(t, guarded.Transport)

	open := webhookClient(config.DeliveryConfig{WebhookTimeout: time.Second, AllowPrivate: true})
	assert.Nil(t, open.CheckRedirect)
	assert.Nil(t, open.Transport)
}
