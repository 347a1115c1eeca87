package types

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error code constants. The prefix determines the HTTP status the daemon's API
// reports, so new codes must keep to the existing prefixes.
const (
	// Validation (400)
	ErrCodeValidationMissingField      ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidJSON       ErrorCode = "validation_invalid_json"
	ErrCodeValidationInvalidSettings   ErrorCode = "validation_invalid_settings"
	ErrCodeValidationSnoozeDuration    ErrorCode = "validation_invalid_snooze_duration"
	ErrCodeValidationSnoozePastStart   ErrorCode = "validation_snooze_past_meeting_start"
	ErrCodeValidationInvalidEvent      ErrorCode = "validation_invalid_event"
	ErrCodeValidationInvalidQuietHours ErrorCode = "validation_invalid_quiet_hours"

	// Not Found (404)
	ErrCodeNotFoundAlert ErrorCode = "not_found_alert"

	// Conflict (409)
	ErrCodeConflictMeetingStarted ErrorCode = "conflict_meeting_already_started"

	// Internal/Upstream (500/502)
	ErrCodeInternalPersistence ErrorCode = "internal_persistence_error"
	ErrCodeInternalUnexpected  ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamWebhook     ErrorCode = "upstream_webhook_unavailable"
	ErrCodeUpstreamUnavailable ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited ErrorCode = "upstream_rate_limited"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Returns 500 for unrecognized error codes.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict
	case s == string(ErrCodeUpstreamRateLimited):
		return http.StatusTooManyRequests
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// AppError is the standard error type used throughout the module. Engine
// failures surfaced to callers are always an *AppError so that the alert UI
// (or the HTTP layer) can branch on Code without string matching.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy of the error with the provided details merged in.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsCode reports whether err is (or wraps) an *AppError carrying code.
func IsCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
