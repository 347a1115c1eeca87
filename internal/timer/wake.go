package timer

import (
	"context"
	"log/slog"
	"time"
)

// WakeDetector polls the clock and calls OnWake when a tick arrives much
// later than expected, which is what a system sleep looks like from inside
// the process.
//
// Two signals are checked on every tick: the wall-clock gap since the last
// tick exceeding Interval+Threshold, and the wall clock running ahead of the
// monotonic clock by more than Threshold (the monotonic clock stops during
// suspend on Linux).
type WakeDetector struct {
	Interval  time.Duration
	Threshold time.Duration
	OnWake    func(ctx context.Context, slept time.Duration)
	Logger    *slog.Logger

	// now is replaceable in tests.
	now func() time.Time
}

// NewWakeDetector returns a detector that checks every interval. Gaps shorter
// than interval/2 past the expected tick are treated as scheduling jitter.
func NewWakeDetector(interval time.Duration, onWake func(ctx context.Context, slept time.Duration), logger *slog.Logger) *WakeDetector {
	if logger == nil {
		logger = slog.Default()
	}
	return &WakeDetector{
		Interval:  interval,
		Threshold: interval / 2,
		OnWake:    onWake,
		Logger:    logger.With("component", "wake_detector"),
		now:       time.Now,
	}
}

// Run blocks until ctx is cancelled.
func (w *WakeDetector) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	last := w.now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			now := w.now()
			if slept, ok := w.check(last, now); ok {
				w.Logger.InfoContext(ctx, "system wake detected", "slept", slept)
				w.OnWake(ctx, slept)
			}
			last = now
		}
	}
}

// check compares two consecutive readings and reports the estimated sleep
// duration when they indicate a suspend.
func (w *WakeDetector) check(prev, now time.Time) (time.Duration, bool) {
	wall := now.Round(0).Sub(prev.Round(0))
	mono := now.Sub(prev)

	if drift := wall - mono; drift > w.Threshold {
		return drift, true
	}
	if wall > w.Interval+w.Threshold {
		return wall - w.Interval, true
	}
	return 0, false
}
