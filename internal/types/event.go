package types

import (
	"fmt"
	"time"
)

// Event is the minimal, already-filtered meeting record handed over by the
// calendar sync layer.
type Event struct {
	ID             string    `json:"id" validate:"required"`
	CalendarID     string    `json:"calendar_id"`
	Title          string    `json:"title"`
	StartTime      time.Time `json:"start_time" validate:"required"`
	EndTime        time.Time `json:"end_time" validate:"required,gtefield=StartTime"`
	IsAllDay       bool      `json:"is_all_day"`
	HasMeetingLink bool      `json:"has_meeting_link"`
}

// HasStarted reports whether the event has started at now.
func (e Event) HasStarted(now time.Time) bool {
	return !now.Before(e.StartTime)
}

// IsInProgress reports whether now falls in [StartTime, EndTime).
func (e Event) IsInProgress(now time.Time) bool {
	return e.HasStarted(now) && now.Before(e.EndTime)
}

// maxStageMinutes bounds a stage lead time to one day.
const maxStageMinutes = 24 * 60

// AlertSettings carries the configured lead time of each stage. Zero
// disables a stage.
type AlertSettings struct {
	Stage1Minutes int `json:"stage1_minutes" envconfig:"STAGE1_MINUTES" default:"10"`
	Stage2Minutes int `json:"stage2_minutes" envconfig:"STAGE2_MINUTES" default:"2"`
}

// DefaultAlertSettings returns the stage defaults (10 and 2 minutes).
func DefaultAlertSettings() AlertSettings {
	return AlertSettings{
		Stage1Minutes: Stage1.DefaultMinutes(),
		Stage2Minutes: Stage2.DefaultMinutes(),
	}
}

// MinutesFor returns the configured lead time of stage.
func (s AlertSettings) MinutesFor(stage AlertStage) int {
	switch stage {
	case Stage1:
		return s.Stage1Minutes
	case Stage2:
		return s.Stage2Minutes
	default:
		return 0
	}
}

// LeadTime returns the configured lead time of stage as a duration.
func (s AlertSettings) LeadTime(stage AlertStage) time.Duration {
	return time.Duration(s.MinutesFor(stage)) * time.Minute
}

// EnabledStages returns the stages with a positive lead time, in firing order.
func (s AlertSettings) EnabledStages() []AlertStage {
	stages := make([]AlertStage, 0, len(AllStages))
	for _, st := range AllStages {
		if s.MinutesFor(st) > 0 {
			stages = append(stages, st)
		}
	}
	return stages
}

// Validate checks the stage bounds and that Stage1 warns earlier than Stage2
// when both are enabled.
func (s AlertSettings) Validate() error {
	for _, st := range AllStages {
		m := s.MinutesFor(st)
		if m < 0 || m > maxStageMinutes {
			return NewAppError(ErrCodeValidationInvalidSettings,
				fmt.Sprintf("%s minutes must be between 0 and %d, got %d", st, maxStageMinutes, m), nil)
		}
	}
	if s.Stage1Minutes > 0 && s.Stage2Minutes > 0 && s.Stage1Minutes <= s.Stage2Minutes {
		return NewAppError(ErrCodeValidationInvalidSettings,
			fmt.Sprintf("stage1 (%d min) must warn earlier than stage2 (%d min)", s.Stage1Minutes, s.Stage2Minutes), nil).
			WithDetails(map[string]any{
				"stage1_minutes": s.Stage1Minutes,
				"stage2_minutes": s.Stage2Minutes,
			})
	}
	return nil
}
