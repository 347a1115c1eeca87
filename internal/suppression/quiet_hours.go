// Package suppression answers the engine's fire-time questions: is the user
// presenting, and are they stuck in a back-to-back meeting.
package suppression

import (
	"fmt"
	"time"

	"meetingalert/internal/config"
	"meetingalert/internal/types"
)

// timeOfDay is a wall-clock time with minute precision.
type timeOfDay struct {
	hour   int
	minute int
}

func (t timeOfDay) minutes() int {
	return t.hour*60 + t.minute
}

// parseTimeOfDay parses "HH:MM" on a 24-hour clock. Trailing text is an
// error.
func parseTimeOfDay(s string) (timeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return timeOfDay{}, fmt.Errorf("expected HH:MM format, got %q: %w", s, err)
	}
	return timeOfDay{hour: t.Hour(), minute: t.Minute()}, nil
}

// QuietHours is a daily Do Not Disturb window evaluated in a fixed
// timezone. A window whose end is before its start spans midnight.
type QuietHours struct {
	start timeOfDay
	end   timeOfDay
	loc   *time.Location
	clock types.Clock
}

// NewQuietHours builds a QuietHours from cfg. It returns nil, nil when no
// window is configured.
func NewQuietHours(cfg config.QuietHoursConfig, clock types.Clock) (*QuietHours, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	start, err := parseTimeOfDay(cfg.Start)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidQuietHours, "invalid quiet hours start", err)
	}
	end, err := parseTimeOfDay(cfg.End)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidQuietHours, "invalid quiet hours end", err)
	}
	if start == end {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidQuietHours, "quiet hours start and end must differ", nil)
	}

	tz := cfg.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidQuietHours,
			fmt.Sprintf("invalid quiet hours timezone %q", tz), err)
	}
	if clock == nil {
		clock = types.RealClock{}
	}

	return &QuietHours{start: start, end: end, loc: loc, clock: clock}, nil
}

// Active reports whether the clock's current time falls in the window.
// A nil QuietHours is never active.
func (q *QuietHours) Active() bool {
	if q == nil {
		return false
	}
	return q.activeAt(q.clock.Now())
}

func (q *QuietHours) activeAt(t time.Time) bool {
	local := t.In(q.loc)
	now := local.Hour()*60 + local.Minute()
	start, end := q.start.minutes(), q.end.minutes()

	if start < end {
		return now >= start && now < end
	}
	// Overnight, e.g. 22:00-07:00.
	return now >= start || now < end
}
