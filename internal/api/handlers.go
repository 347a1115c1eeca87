// Package api is the daemon's HTTP surface. It translates requests into
// engine operations; it holds no alert state of its own.
package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"meetingalert/internal/suppression"
	"meetingalert/internal/types"
)

// AlertEngine is the subset of *engine.Engine the handlers drive.
type AlertEngine interface {
	Reconcile(ctx context.Context, events []types.Event, settings types.AlertSettings) error
	Snooze(ctx context.Context, alertID string, d time.Duration) (types.ScheduledAlert, error)
	AcknowledgeAlert(ctx context.Context, eventID string) error
	CancelAlerts(ctx context.Context, eventID string) error
	PendingAlerts(ctx context.Context) ([]types.ScheduledAlert, error)
	Alert(ctx context.Context, alertID string) (types.ScheduledAlert, bool, error)
	NextAlert(ctx context.Context) (types.ScheduledAlert, bool, error)
	AcknowledgedEvents(ctx context.Context) ([]string, error)
}

// EventSnapshotter receives every synced event list.
type EventSnapshotter interface {
	Update(events []types.Event)
}

// WakeFunc runs missed-alert recovery.
type WakeFunc func(ctx context.Context) ([]types.MissedAlertResult, error)

// --- Request/Response Models ---

// SyncRequest is the body of POST /v1/sync. Settings default to the
// configured stage lead times.
type SyncRequest struct {
	Events   []types.Event        `json:"events" validate:"dive"`
	Settings *types.AlertSettings `json:"settings,omitempty"`
}

// SnoozeRequest is the optional body of POST /v1/alerts/{id}/snooze.
// Seconds is capped so that it still fits a time.Duration.
type SnoozeRequest struct {
	Seconds *int64 `json:"seconds,omitempty" validate:"omitempty,min=1,max=9223372036"`
}

// PresentationRequest is the body of PUT /v1/presentation.
type PresentationRequest struct {
	ScreenSharing bool `json:"screen_sharing"`
	DoNotDisturb  bool `json:"do_not_disturb"`
}

// AlertList is the body of GET /v1/alerts.
type AlertList struct {
	Alerts             []types.ScheduledAlert `json:"alerts"`
	Next               *types.ScheduledAlert  `json:"next,omitempty"`
	AcknowledgedEvents []string               `json:"acknowledged_events"`
}

// MissedAlert is one entry of the POST /v1/wake response.
type MissedAlert struct {
	Kind      types.MissedAlertKind `json:"kind"`
	Delivered bool                  `json:"delivered"`
	Alert     types.ScheduledAlert  `json:"alert"`
}

// --- Handler ---

// Config holds the Handler's collaborators. Presentation, Snapshots and Wake
// are optional; their routes answer 404 when unset. A nil DefaultSettings
// means the built-in stage lead times.
type Config struct {
	Engine          AlertEngine
	Presentation    *suppression.PresentationState
	Snapshots       EventSnapshotter
	Wake            WakeFunc
	DefaultSettings *types.AlertSettings
	DefaultSnooze   time.Duration
	Logger          *slog.Logger
}

// Handler serves the alert API.
type Handler struct {
	engine          AlertEngine
	presentation    *suppression.PresentationState
	snapshots       EventSnapshotter
	wake            WakeFunc
	defaultSettings types.AlertSettings
	defaultSnooze   time.Duration
	validator       *Validator
	logger          *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	settings := types.DefaultAlertSettings()
	if cfg.DefaultSettings != nil {
		settings = *cfg.DefaultSettings
	}
	snooze := cfg.DefaultSnooze
	if snooze <= 0 {
		snooze = time.Minute
	}
	return &Handler{
		engine:          cfg.Engine,
		presentation:    cfg.Presentation,
		snapshots:       cfg.Snapshots,
		wake:            cfg.Wake,
		defaultSettings: settings,
		defaultSnooze:   snooze,
		validator:       NewValidator(),
		logger:          logger.With("component", "api"),
	}
}

// RegisterRoutes mounts the v1 routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/sync", h.Sync)
	r.Get("/alerts", h.ListAlerts)
	r.Get("/alerts/{id}", h.GetAlert)
	r.Post("/alerts/{id}/snooze", h.Snooze)
	r.Post("/events/{id}/acknowledge", h.Acknowledge)
	r.Delete("/events/{id}/alerts", h.CancelEventAlerts)
	if h.wake != nil {
		r.Post("/wake", h.Wake)
	}
	if h.presentation != nil {
		r.Get("/presentation", h.GetPresentation)
		r.Put("/presentation", h.SetPresentation)
	}
}

// Sync reconciles the engine against the posted event list.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		Error(w, r, err)
		return
	}
	if err := h.validator.Struct(req, types.ErrCodeValidationInvalidEvent); err != nil {
		Error(w, r, err)
		return
	}

	settings := h.defaultSettings
	if req.Settings != nil {
		settings = *req.Settings
	}

	if h.snapshots != nil {
		h.snapshots.Update(req.Events)
	}
	if err := h.engine.Reconcile(r.Context(), req.Events, settings); err != nil {
		Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "calendar synced", "events", len(req.Events))
	h.ListAlerts(w, r)
}

// ListAlerts returns every tracked alert ordered by fire time. Next is the
// earliest one that has not fired yet; fired alerts stay listed so they can
// still be snoozed.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.engine.PendingAlerts(r.Context())
	if err != nil {
		Error(w, r, err)
		return
	}
	acked, err := h.engine.AcknowledgedEvents(r.Context())
	if err != nil {
		Error(w, r, err)
		return
	}

	resp := AlertList{Alerts: alerts, AcknowledgedEvents: acked}
	if resp.Alerts == nil {
		resp.Alerts = []types.ScheduledAlert{}
	}
	if resp.AcknowledgedEvents == nil {
		resp.AcknowledgedEvents = []string{}
	}
	next, ok, err := h.engine.NextAlert(r.Context())
	if err != nil {
		Error(w, r, err)
		return
	}
	if ok {
		resp.Next = &next
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: resp})
}

// GetAlert returns one pending alert.
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	alert, ok, err := h.engine.Alert(r.Context(), id)
	if err != nil {
		Error(w, r, err)
		return
	}
	if !ok {
		Error(w, r, types.NewAppError(types.ErrCodeNotFoundAlert, "alert not found", nil).
			WithDetails(map[string]any{"alert_id": id}))
		return
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: alert})
}

// Snooze pushes an alert back by the requested or default duration.
func (h *Handler) Snooze(w http.ResponseWriter, r *http.Request) {
	var req SnoozeRequest
	if err := DecodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		Error(w, r, err)
		return
	}
	if err := h.validator.Struct(req, types.ErrCodeValidationSnoozeDuration); err != nil {
		Error(w, r, err)
		return
	}

	d := h.defaultSnooze
	if req.Seconds != nil {
		d = time.Duration(*req.Seconds) * time.Second
	}

	alert, err := h.engine.Snooze(r.Context(), chi.URLParam(r, "id"), d)
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: alert})
}

// Acknowledge marks an event handled so it is never alerted again.
func (h *Handler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.AcknowledgeAlert(r.Context(), chi.URLParam(r, "id")); err != nil {
		Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CancelEventAlerts drops every alert of an event.
func (h *Handler) CancelEventAlerts(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.CancelAlerts(r.Context(), chi.URLParam(r, "id")); err != nil {
		Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Wake runs missed-alert recovery, for clients that observe the sleep/wake
// transition themselves.
func (h *Handler) Wake(w http.ResponseWriter, r *http.Request) {
	results, err := h.wake(r.Context())
	if err != nil {
		Error(w, r, err)
		return
	}

	out := make([]MissedAlert, 0, len(results))
	for _, res := range results {
		out = append(out, MissedAlert{Kind: res.Kind, Delivered: res.ShouldDeliver(), Alert: res.Alert})
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: out})
}

// GetPresentation returns the manual presentation toggles.
func (h *Handler) GetPresentation(w http.ResponseWriter, r *http.Request) {
	JSON(w, r, http.StatusOK, APIResponse{Data: h.presentation.Snapshot()})
}

// SetPresentation replaces the manual presentation toggles.
func (h *Handler) SetPresentation(w http.ResponseWriter, r *http.Request) {
	var req PresentationRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		Error(w, r, err)
		return
	}
	h.presentation.Set(req.ScreenSharing, req.DoNotDisturb)

	h.logger.InfoContext(r.Context(), "presentation state changed",
		"screen_sharing", req.ScreenSharing,
		"do_not_disturb", req.DoNotDisturb,
	)
	JSON(w, r, http.StatusOK, APIResponse{Data: h.presentation.Snapshot()})
}
