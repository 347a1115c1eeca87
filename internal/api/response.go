package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"meetingalert/internal/types"
)

// maxRequestBodySize bounds request bodies. A sync of a full day of events
// stays well under it.
const maxRequestBodySize = 1 << 20

// APIResponse is the envelope for successful responses.
type APIResponse struct {
	Data any `json:"data,omitempty"`
}

// APIErrorResponse is the envelope for error responses.
type APIErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail is the client-facing part of an error.
type ErrorDetail struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id"`
}

// JSON writes data with status. A marshalling failure becomes a 500.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(APIErrorResponse{
			Error: ErrorDetail{
				Code:      string(types.ErrCodeInternalUnexpected),
				Message:   "failed to marshal response",
				RequestID: types.GetRequestID(r.Context()),
			},
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// Error writes err as an APIErrorResponse. An *types.AppError keeps its code,
// message and details; anything else is reported as an opaque 500 so
// internals never leak to the client.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	requestID := types.GetRequestID(r.Context())

	var appErr *types.AppError
	if errors.As(err, &appErr) {
		JSON(w, r, appErr.HTTPStatus(), APIErrorResponse{
			Error: ErrorDetail{
				Code:      string(appErr.Code),
				Message:   appErr.Message,
				Details:   appErr.Details,
				RequestID: requestID,
			},
		})
		return
	}

	JSON(w, r, http.StatusInternalServerError, APIErrorResponse{
		Error: ErrorDetail{
			Code:      string(types.ErrCodeInternalUnexpected),
			Message:   "an unexpected error occurred",
			RequestID: requestID,
		},
	})
}

// DecodeJSON reads a single JSON value into dst, rejecting unknown fields
// and bodies over maxRequestBodySize. Errors are validation_invalid_json
// AppErrors; an empty body wraps io.EOF.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return mapDecodeError(err)
	}
	if dec.More() {
		return types.NewAppError(types.ErrCodeValidationInvalidJSON,
			"request body must contain a single JSON object", nil)
	}
	return nil
}

func mapDecodeError(err error) *types.AppError {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return types.NewAppError(types.ErrCodeValidationInvalidJSON, "request body must not exceed 1MB", err)
	}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return types.NewAppError(types.ErrCodeValidationInvalidJSON, "malformed JSON in request body", err)
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return types.NewAppError(types.ErrCodeValidationInvalidJSON, "invalid value for field", err).
			WithDetails(map[string]any{
				"field":    typeErr.Field,
				"expected": typeErr.Type.String(),
			})
	}

	if field, ok := strings.CutPrefix(err.Error(), "json: unknown field "); ok {
		return types.NewAppError(types.ErrCodeValidationInvalidJSON, "unknown field in request body: "+field, err)
	}

	if errors.Is(err, io.EOF) {
		return types.NewAppError(types.ErrCodeValidationInvalidJSON, "request body must not be empty", err)
	}

	return types.NewAppError(types.ErrCodeValidationInvalidJSON, "invalid JSON in request body", err)
}
