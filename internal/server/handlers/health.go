// Package handlers implements the status server's HTTP endpoints.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	gferrors "github.com/fulmenhq/gofulmen/errors"

	apperrors "github.com/3leaps/gristmill/internal/errors"
	"github.com/3leaps/gristmill/internal/server/middleware"
)

// HealthChecker probes one dependency.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks,omitempty"`
}

const checkTimeout = 5 * time.Second

// HealthManager runs registered checkers and aggregates their results.
type HealthManager struct {
	mu       sync.RWMutex
	version  string
	checkers map[string]HealthChecker
}

// NewHealthManager creates a manager reporting the given version.
func NewHealthManager(version string) *HealthManager {
	return &HealthManager{
		version:  version,
		checkers: make(map[string]HealthChecker),
	}
}

// RegisterChecker adds a named dependency probe.
func (m *HealthManager) RegisterChecker(name string, checker HealthChecker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[name] = checker
}

// HealthHandler runs all checkers and reports aggregate health. Any
// unhealthy check yields 503 with per-check detail; timeouts degrade the
// status without failing the endpoint.
func (m *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	checks := m.runChecks(r.Context())
	status := m.determineOverallStatus(checks)

	if status == "unhealthy" {
		envelope := gferrors.NewErrorEnvelope(
			apperrors.CodeServiceUnavailable,
			"one or more health checks failed",
		).WithCorrelationID(middleware.GetRequestID(r.Context()))

		details := map[string]interface{}{"checks": checks}
		if enriched, err := envelope.WithContext(details); err == nil {
			envelope = enriched
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(apperrors.HTTPErrorResponse{
			Error: apperrors.HTTPErrorDetail{
				Code:      envelope.Code,
				Message:   envelope.Message,
				RequestID: envelope.CorrelationID,
				Details:   envelope.Context,
			},
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(HealthResponse{
		Status:  status,
		Version: m.version,
		Checks:  checks,
	})
}

// LivenessHandler reports process liveness without probing dependencies.
func (m *HealthManager) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(HealthResponse{
		Status:  "healthy",
		Version: m.version,
	})
}

// ReadinessHandler is the readiness probe; it runs the full check set.
func (m *HealthManager) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	m.HealthHandler(w, r)
}

// StartupHandler is the startup probe; it runs the full check set.
func (m *HealthManager) StartupHandler(w http.ResponseWriter, r *http.Request) {
	m.HealthHandler(w, r)
}

func (m *HealthManager) runChecks(ctx context.Context) map[string]string {
	m.mu.RLock()
	checkers := make(map[string]HealthChecker, len(m.checkers))
	for name, checker := range m.checkers {
		checkers[name] = checker
	}
	m.mu.RUnlock()

	results := make(map[string]string, len(checkers))
	for name, checker := range checkers {
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := checker.CheckHealth(checkCtx)
		cancel()

		switch {
		case err == nil:
			results[name] = "healthy"
		case checkCtx.Err() == context.DeadlineExceeded:
			results[name] = "timeout"
		default:
			results[name] = "unhealthy"
		}
	}
	return results
}

func (m *HealthManager) determineOverallStatus(checks map[string]string) string {
	status := "healthy"
	for _, result := range checks {
		switch result {
		case "unhealthy":
			return "unhealthy"
		case "timeout":
			status = "degraded"
		}
	}
	return status
}

var (
	globalMu            sync.RWMutex
	globalHealthManager *HealthManager
)

// InitHealthManager installs the process-wide health manager.
func InitHealthManager(version string) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalHealthManager = NewHealthManager(version)
}

// GetHealthManager returns the process-wide health manager, or nil before
// InitHealthManager.
func GetHealthManager() *HealthManager {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalHealthManager
}

func withGlobalManager(w http.ResponseWriter, r *http.Request, serve func(*HealthManager, http.ResponseWriter, *http.Request)) {
	manager := GetHealthManager()
	if manager == nil {
		apperrors.WriteJSONError(w, http.StatusServiceUnavailable,
			apperrors.CodeServiceUnavailable, "health manager not initialized",
			middleware.GetRequestID(r.Context()), nil)
		return
	}
	serve(manager, w, r)
}

// HealthHandler serves /health from the process-wide manager.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	withGlobalManager(w, r, (*HealthManager).HealthHandler)
}

// LivenessHandler serves /health/live from the process-wide manager.
func LivenessHandler(w http.ResponseWriter, r *http.Request) {
	withGlobalManager(w, r, (*HealthManager).LivenessHandler)
}

// ReadinessHandler serves /health/ready from the process-wide manager.
func ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	withGlobalManager(w, r, (*HealthManager).ReadinessHandler)
}

// StartupHandler serves /health/startup from the process-wide manager.
func StartupHandler(w http.ResponseWriter, r *http.Request) {
	withGlobalManager(w, r, (*HealthManager).StartupHandler)
}
