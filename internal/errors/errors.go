// Package errors defines the application error shape shared by the CLI
// and the status server: typed errors with stable codes, and the JSON
// envelope every HTTP error response uses.
package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Stable error codes used in HTTP envelopes and JSONL error records.
const (
	CodeInternal           = "INTERNAL_ERROR"
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeExternalService    = "EXTERNAL_SERVICE_UNAVAILABLE"
	CodeInvalidArgument    = "INVALID_ARGUMENT"
)

// AppError is an error with a stable code and an HTTP status.
type AppError struct {
	// Code is one of the Code* constants.
	Code string

	// Status is the HTTP status to respond with.
	Status int

	// Message is the human-readable description.
	Message string

	// Err is the wrapped cause, if any.
	Err error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause for errors.Is/As support.
func (e *AppError) Unwrap() error { return e.Err }

// NewExternalServiceError marks a dependency outage (storage backend,
// metadata service) the caller cannot fix locally.
func NewExternalServiceError(message string) *AppError {
	return &AppError{
		Code:    CodeExternalService,
		Status:  http.StatusServiceUnavailable,
		Message: message,
	}
}

// NewNotFoundError marks a missing resource.
func NewNotFoundError(message string) *AppError {
	return &AppError{Code: CodeNotFound, Status: http.StatusNotFound, Message: message}
}

// NewInvalidArgumentError marks rejected input.
func NewInvalidArgumentError(message string) *AppError {
	return &AppError{Code: CodeInvalidArgument, Status: http.StatusBadRequest, Message: message}
}

// WrapInternal wraps an unexpected failure as an internal error. The
// context is accepted for future correlation propagation; only the error
// chain is used today.
func WrapInternal(ctx context.Context, err error, message string) *AppError {
	_ = ctx
	return &AppError{
		Code:    CodeInternal,
		Status:  http.StatusInternalServerError,
		Message: message,
		Err:     err,
	}
}

// HTTPErrorResponse is the JSON envelope for every HTTP error response.
type HTTPErrorResponse struct {
	Error HTTPErrorDetail `json:"error"`
}

// HTTPErrorDetail carries the error fields inside the envelope.
type HTTPErrorDetail struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// RespondWithError writes err as a JSON envelope. AppError supplies its
// own code and status; anything else is an internal error.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		appErr = &AppError{
			Code:    CodeInternal,
			Status:  http.StatusInternalServerError,
			Message: err.Error(),
		}
	}
	WriteJSONError(w, appErr.Status, appErr.Code, appErr.Message, requestID(r), nil)
}

// WriteJSONError writes one HTTP error envelope.
func WriteJSONError(w http.ResponseWriter, status int, code, message, reqID string, details map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(HTTPErrorResponse{
		Error: HTTPErrorDetail{
			Code:      code,
			Message:   message,
			RequestID: reqID,
			Details:   details,
		},
	})
}

func requestID(r *http.Request) string {
	if r == nil {
		return ""
	}
	return r.Header.Get("X-Request-ID")
}
