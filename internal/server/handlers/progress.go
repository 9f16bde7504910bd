package handlers

import (
	"encoding/json"
	"net/http"
	"sync"

	apperrors "github.com/3leaps/gristmill/internal/errors"
	"github.com/3leaps/gristmill/internal/server/middleware"
	"github.com/3leaps/gristmill/pkg/output"
)

// ProgressSource exposes live run counters. The runner satisfies this.
type ProgressSource interface {
	Progress() *output.ProgressRecord
}

var (
	progressMu     sync.RWMutex
	progressSource ProgressSource
)

// SetProgressSource registers the active run for the /progress endpoint.
// Passing nil unregisters it.
func SetProgressSource(source ProgressSource) {
	progressMu.Lock()
	defer progressMu.Unlock()
	progressSource = source
}

// ProgressHandler serves the live counters of the registered run, or 503
// when no run is registered.
func ProgressHandler(w http.ResponseWriter, r *http.Request) {
	progressMu.RLock()
	source := progressSource
	progressMu.RUnlock()

	if source == nil {
		apperrors.WriteJSONError(w, http.StatusServiceUnavailable,
			apperrors.CodeServiceUnavailable, "no run in progress",
			middleware.GetRequestID(r.Context()), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(source.Progress())
}
