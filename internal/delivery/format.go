package delivery

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"meetingalert/internal/types"
)

// Platform selects the webhook payload shape.
type Platform string

const (
	PlatformGeneric Platform = "generic"
	PlatformSlack   Platform = "slack"
)

// AlertPayload is the generic webhook body.
type AlertPayload struct {
	DeliveryID  string     `json:"delivery_id"`
	AlertID     string     `json:"alert_id"`
	EventID     string     `json:"event_id"`
	Title       string     `json:"title"`
	Stage       int        `json:"stage"`
	StageLabel  string     `json:"stage_label"`
	StartsAt    time.Time  `json:"starts_at"`
	FireAt      time.Time  `json:"fire_at"`
	SnoozeCount int        `json:"snooze_count"`
	OriginalAt  *time.Time `json:"original_fire_at,omitempty"`
	Downgraded  bool       `json:"downgraded"`
	Reason      string     `json:"reason,omitempty"`
	SentAt      time.Time  `json:"sent_at"`
}

// SlackPayload is an incoming-webhook message in Block Kit form.
type SlackPayload struct {
	Text   string       `json:"text"`
	Blocks []SlackBlock `json:"blocks"`
}

// SlackBlock is one Block Kit block.
type SlackBlock struct {
	Type     string       `json:"type"`
	Text     *SlackText   `json:"text,omitempty"`
	Fields   []*SlackText `json:"fields,omitempty"`
	Elements []*SlackText `json:"elements,omitempty"`
}

// SlackText is a Block Kit text object.
type SlackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

var reasonText = map[types.AlertDowngradeReason]string{
	types.DowngradeScreenSharing:     "shown quietly while you are sharing your screen",
	types.DowngradeDoNotDisturb:      "shown quietly because Do Not Disturb is on",
	types.DowngradeBackToBackMeeting: "shown quietly because you are in a back-to-back meeting",
}

// format renders the body for platform. reason is empty for a normal
// delivery.
func format(p Platform, deliveryID string, a types.ScheduledAlert, reason types.AlertDowngradeReason, now time.Time) ([]byte, error) {
	switch p {
	case PlatformSlack:
		return json.Marshal(slackPayload(a, reason, now))
	case PlatformGeneric, "":
		return json.Marshal(AlertPayload{
			DeliveryID:  deliveryID,
			AlertID:     a.ID,
			EventID:     a.EventID,
			Title:       a.EventTitle,
			Stage:       int(a.Stage),
			StageLabel:  a.Stage.Label(),
			StartsAt:    a.EventStart.UTC(),
			FireAt:      a.ScheduledFireTime.UTC(),
			SnoozeCount: a.SnoozeCount,
			OriginalAt:  a.OriginalFireTime,
			Downgraded:  reason != "",
			Reason:      string(reason),
			SentAt:      now.UTC(),
		})
	default:
		return nil, fmt.Errorf("delivery: unknown webhook platform %q", p)
	}
}

func slackPayload(a types.ScheduledAlert, reason types.AlertDowngradeReason, now time.Time) SlackPayload {
	headline := fmt.Sprintf("%s: %s %s", a.Stage.Label(), a.EventTitle, startsIn(a.EventStart, now))

	fields := []*SlackText{
		{Type: "mrkdwn", Text: fmt.Sprintf("*Starts*\n%s", a.EventStart.Format(time.Kitchen))},
	}
	if a.SnoozeCount > 0 {
		fields = append(fields, &SlackText{Type: "mrkdwn", Text: fmt.Sprintf("*Snoozed*\n%d×", a.SnoozeCount)})
	}

	payload := SlackPayload{
		Text: headline,
		Blocks: []SlackBlock{
			{Type: "header", Text: &SlackText{Type: "plain_text", Text: headline}},
			{Type: "section", Fields: fields},
		},
	}
	if reason != "" {
		payload.Blocks = append(payload.Blocks, SlackBlock{
			Type:     "context",
			Elements: []*SlackText{{Type: "mrkdwn", Text: "_" + reasonText[reason] + "_"}},
		})
	}
	return payload
}

// startsIn renders the lead time in minutes, e.g. "starts in 2 min".
func startsIn(start, now time.Time) string {
	d := start.Sub(now)
	switch {
	case d <= 0:
		return "has started"
	case d < time.Minute:
		return "starts in under a minute"
	default:
		return fmt.Sprintf("starts in %d min", int(d.Round(time.Minute)/time.Minute))
	}
}

// validateSlackResponse catches Slack's soft failures: HTTP 200 with an
// error string instead of "ok".
func validateSlackResponse(body []byte) error {
	s := strings.TrimSpace(string(body))
	if s == "" || s == "ok" {
		return nil
	}
	var resp struct {
		OK    *bool  `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err == nil {
		if resp.OK != nil && !*resp.OK {
			return fmt.Errorf("slack: API error: %s", resp.Error)
		}
		return nil
	}
	return fmt.Errorf("slack: API error: %s", s)
}
