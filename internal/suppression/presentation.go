package suppression

import (
	"context"
	"log/slog"
	"sync"

	"meetingalert/internal/engine"
	"meetingalert/internal/types"
)

// PresentationState holds the manual toggles reported by the desktop
// client. It is safe for concurrent use.
type PresentationState struct {
	mu            sync.RWMutex
	screenSharing bool
	doNotDisturb  bool
}

// PresentationSnapshot is a point-in-time copy of PresentationState.
type PresentationSnapshot struct {
	ScreenSharing bool `json:"screen_sharing"`
	DoNotDisturb  bool `json:"do_not_disturb"`
}

// Set replaces both toggles.
func (s *PresentationState) Set(screenSharing, doNotDisturb bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.screenSharing = screenSharing
	s.doNotDisturb = doNotDisturb
}

// Snapshot returns the current toggles.
func (s *PresentationState) Snapshot() PresentationSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return PresentationSnapshot{ScreenSharing: s.screenSharing, DoNotDisturb: s.doNotDisturb}
}

// PresentationMode combines the manual toggles with the quiet-hours window.
// Screen sharing takes priority over Do Not Disturb; quiet hours count as
// Do Not Disturb. Either argument may be nil.
func PresentationMode(state *PresentationState, quiet *QuietHours, logger *slog.Logger) engine.PresentationModeProvider {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "presentation_mode")

	return func(ctx context.Context) (types.AlertDowngradeReason, bool) {
		var snap PresentationSnapshot
		if state != nil {
			snap = state.Snapshot()
		}
		switch {
		case snap.ScreenSharing:
			return types.DowngradeScreenSharing, true
		case snap.DoNotDisturb:
			return types.DowngradeDoNotDisturb, true
		case quiet.Active():
			logger.DebugContext(ctx, "quiet hours active")
			return types.DowngradeDoNotDisturb, true
		default:
			return "", false
		}
	}
}
