package handlers

import (
	"net/http"

	apperrors "github.com/3leaps/gristmill/internal/errors"
)

// HTTPErrorResponder writes an error to an HTTP response.
type HTTPErrorResponder func(w http.ResponseWriter, r *http.Request, err error)

func defaultErrorResponder(w http.ResponseWriter, r *http.Request, err error) {
	apperrors.RespondWithError(w, r, err)
}

var httpErrorResponder HTTPErrorResponder = defaultErrorResponder

// SetHTTPErrorResponder replaces the error responder. Passing nil restores
// the default.
func SetHTTPErrorResponder(responder HTTPErrorResponder) {
	if responder == nil {
		httpErrorResponder = defaultErrorResponder
		return
	}
	httpErrorResponder = responder
}

// ResetHTTPErrorResponder restores the default responder.
func ResetHTTPErrorResponder() {
	httpErrorResponder = defaultErrorResponder
}

func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	httpErrorResponder(w, r, err)
}
