package delivery

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"meetingalert/internal/config"
	"meetingalert/internal/engine"
	"meetingalert/internal/types"
)

// DeliveryIDHeader identifies one delivery attempt sequence so receivers can
// deduplicate retried posts.
const DeliveryIDHeader = "X-MeetingAlert-Delivery"

// maxResponseBody bounds how much of a webhook response is read.
const maxResponseBody = 64 << 10

var _ engine.Deliverer = (*WebhookDeliverer)(nil)

// WebhookDeliverer posts alerts as JSON to a configured URL.
type WebhookDeliverer struct {
	url      string
	secret   types.SecretString
	platform Platform
	poster   *httpPoster
	logger   *slog.Logger
	now      func() time.Time
}

// NewWebhookDeliverer builds a WebhookDeliverer from cfg. httpClient may be
// nil, in which case a client with cfg.WebhookTimeout is used.
func NewWebhookDeliverer(cfg config.DeliveryConfig, httpClient *http.Client, logger *slog.Logger) *WebhookDeliverer {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.WebhookTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookDeliverer{
		url:      cfg.WebhookURL,
		secret:   cfg.WebhookSecret,
		platform: Platform(cfg.WebhookPlatform),
		poster:   newHTTPPoster(httpClient, "webhook", DefaultRetryPolicy(), cfg.UserAgent),
		logger:   logger.With("component", "webhook_sink"),
		now:      time.Now,
	}
}

func (d *WebhookDeliverer) Deliver(ctx context.Context, alert types.ScheduledAlert) error {
	return d.send(ctx, alert, "")
}

func (d *WebhookDeliverer) DeliverDowngraded(ctx context.Context, alert types.ScheduledAlert, reason types.AlertDowngradeReason) error {
	return d.send(ctx, alert, reason)
}

func (d *WebhookDeliverer) send(ctx context.Context, alert types.ScheduledAlert, reason types.AlertDowngradeReason) error {
	deliveryID := uuid.New().String()
	now := d.now()

	body, err := format(d.platform, deliveryID, alert, reason, now)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to format webhook payload", err)
	}

	headers := http.Header{}
	headers.Set(DeliveryIDHeader, deliveryID)
	if d.secret.IsSet() {
		headers.Set(SignatureHeader, Sign(body, d.secret.Unmask(), now))
	}

	start := time.Now()
	resp, err := d.poster.post(ctx, d.url, body, headers)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return types.NewAppError(types.ErrCodeUpstreamWebhook,
			fmt.Sprintf("webhook rejected alert with status %d", resp.StatusCode), nil).
			WithDetails(map[string]any{"alert_id": alert.ID, "delivery_id": deliveryID})
	}
	if d.platform == PlatformSlack {
		if err := validateSlackResponse(respBody); err != nil {
			return types.NewAppError(types.ErrCodeUpstreamWebhook, "slack rejected alert", err)
		}
	}

	d.logger.InfoContext(ctx, "webhook delivered",
		"alert_id", alert.ID,
		"delivery_id", deliveryID,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}
