// Package middleware provides the status server's HTTP middleware:
// request ID propagation and panic recovery with JSON error envelopes.
package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"

	gferrors "github.com/fulmenhq/gofulmen/errors"

	apperrors "github.com/3leaps/gristmill/internal/errors"
	"github.com/3leaps/gristmill/internal/observability"
)

// ErrorResponse is the JSON shape of every middleware-written error.
type ErrorResponse = apperrors.HTTPErrorResponse

// Recovery converts handler panics into 500 responses with an error
// envelope instead of tearing down the connection.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if logger := observability.CLILogger; logger != nil {
					logger.Error(fmt.Sprintf("panic in %s %s: %v", r.Method, r.URL.Path, rec))
				}
				envelope := gferrors.NewErrorEnvelope(
					apperrors.CodeInternal,
					fmt.Sprintf("panic: %v", rec),
				).WithCorrelationID(GetRequestID(r.Context()))
				writeErrorResponse(w, envelope, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// ErrorHandler is an alias for Recovery, kept for router readability.
func ErrorHandler(next http.Handler) http.Handler {
	return Recovery(next)
}

// writeErrorResponse renders an error envelope as the standard JSON shape.
func writeErrorResponse(w http.ResponseWriter, envelope *gferrors.ErrorEnvelope, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error: apperrors.HTTPErrorDetail{
			Code:      envelope.Code,
			Message:   envelope.Message,
			RequestID: envelope.CorrelationID,
			Details:   envelope.Context,
		},
	})
}
