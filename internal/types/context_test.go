package types

import (
	"context"
	"testing"
	"time"
)

func TestWithRequestID_GetRequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-abc-123")
	if got := GetRequestID(ctx); got != "req-abc-123" {
		t.Errorf("GetRequestID() = %q, want %q", got, "req-abc-123")
	}
}

func TestGetRequestID_Missing(t *testing.T) {
	if got := GetRequestID(context.Background()); got != "" {
		t.Errorf("GetRequestID() = %q, want empty", got)
	}
}

func TestGetRequestID_IgnoresForeignKey(t *testing.T) {
	// A plain string key with the same text must not collide.
	ctx := context.WithValue(context.Background(), "request_id", "spoofed") //nolint:staticcheck
	if got := GetRequestID(ctx); got != "" {
		t.Errorf("GetRequestID() = %q, want empty", got)
	}
}

func TestClockFunc(t *testing.T) {
	fixed := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	var c Clock = ClockFunc(func() time.Time { return fixed })
	if !c.Now().Equal(fixed) {
		t.Errorf("Now() = %v, want %v", c.Now(), fixed)
	}
}
