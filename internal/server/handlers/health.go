// Package handlers implements the HTTP endpoints.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	apperrors "github.com/fathomtel/callsight/internal/errors"
)

// HealthChecker probes one dependency.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// checkTimeout bounds each individual probe.
const checkTimeout = 5 * time.Second

// HealthManager aggregates dependency probes into one health status.
type HealthManager struct {
	version string

	mu       sync.RWMutex
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

// HealthResponse is the healthy-path response body.
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// HealthHandler runs all probes and reports aggregate health. Any failed
// probe turns the response into a 503 with per-check detail.
func (m *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	checks := m.runChecks(r.Context())
	status := m.determineOverallStatus(checks)

	if status == "unhealthy" {
		details := make(map[string]any, len(checks))
		for name, state := range checks {
			details[name] = state
		}
		apperrors.WriteDetailed(w, http.StatusServiceUnavailable, apperrors.HTTPError{
			Code:    apperrors.CodeServiceUnavailable,
			Message: "one or more dependencies are unhealthy",
			Details: map[string]any{"checks": details},
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(HealthResponse{
		Status:  status,
		Version: m.version,
		Checks:  checks,
	})
}

// LiveHandler reports process liveness only; no dependency probes.
func (m *HealthManager) LiveHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(HealthResponse{Status: "healthy", Version: m.version})
}

func (m *HealthManager) runChecks(ctx context.Context) map[string]string {
	m.mu.RLock()
	checkers := make(map[string]HealthChecker, len(m.checkers))
	for name, c := range m.checkers {
		checkers[name] = c
	}
	m.mu.RUnlock()

	checks := make(map[string]string, len(checkers))
	for name, checker := range checkers {
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := checker.CheckHealth(checkCtx)
		cancel()

		switch {
		case err == nil:
			checks[name] = "healthy"
		case checkCtx.Err() != nil:
			checks[name] = "timeout"
		default:
			checks[name] = "unhealthy"
		}
	}
	return checks
}

// determineOverallStatus folds per-check states: any unhealthy check makes
// the whole service unhealthy; a timeout alone only degrades it.
func (m *HealthManager) determineOverallStatus(checks map[string]string) string {
	status := "healthy"
	for _, state := range checks {
		switch state {
		case "unhealthy":
			return "unhealthy"
		case "timeout":
			status = "degraded"
		}
	}
	return status
}
