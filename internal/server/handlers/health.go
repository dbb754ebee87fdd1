// Package handlers implements the status server's HTTP handlers.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	gferrors "github.com/fulmenhq/gofulmen/errors"

	apperrors "github.com/3leaps/dxrunner/internal/errors"
)

// Checker is a named health probe.
type Checker interface {
	CheckHealth(ctx context.Context) error
}

// HealthResponse is the body of a passing health check.
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks,omitempty"`
	Time    time.Time         `json:"time"`
}

// checkTimeout bounds each individual probe.
const checkTimeout = 5 * time.Second

// HealthManager aggregates registered health checkers.
type HealthManager struct {
	mu       sync.RWMutex
	version  string
	checkers map[string]Checker
	started  time.Time
}

// NewHealthManager builds a manager reporting the given version.
func NewHealthManager(version string) *HealthManager {
	return &HealthManager{
		version:  version,
		checkers: make(map[string]Checker),
		started:  time.Now(),
	}
}

// RegisterChecker adds a named probe. Later registrations replace
// earlier ones under the same name.
func (m *HealthManager) RegisterChecker(name string, c Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[name] = c
}

// HealthHandler runs every registered probe and reports the aggregate.
func (m *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	checks := m.runChecks(r.Context())
	status := m.determineOverallStatus(checks)

	if status == "unhealthy" {
		env := gferrors.NewErrorEnvelope(apperrors.CodeServiceUnavailable, "one or more health checks failed")
		details := map[string]any{"checks": checks}
		if withCtx, err := env.WithContext(details); err == nil {
			env = withCtx
		}
		writeEnvelope(w, env, http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  status,
		Version: m.version,
		Checks:  checks,
		Time:    time.Now().UTC(),
	})
}

// LivenessHandler reports process liveness only. It never runs probes;
// if this handler answers, the process is alive.
func (m *HealthManager) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: m.version,
		Time:    time.Now().UTC(),
	})
}

// ReadinessHandler reports whether the server can serve traffic, which
// for a read-only status server is the same aggregate as /health.
func (m *HealthManager) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	m.HealthHandler(w, r)
}

// StartupHandler reports whether initial startup completed.
func (m *HealthManager) StartupHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: m.version,
		Time:    time.Now().UTC(),
	})
}

func (m *HealthManager) runChecks(ctx context.Context) map[string]string {
	m.mu.RLock()
	checkers := make(map[string]Checker, len(m.checkers))
	for name, c := range m.checkers {
		checkers[name] = c
	}
	m.mu.RUnlock()

	results := make(map[string]string, len(checkers))
	for name, c := range checkers {
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := c.CheckHealth(checkCtx)
		cancel()

		switch {
		case err == nil:
			results[name] = "healthy"
		case checkCtx.Err() != nil:
			results[name] = "timeout"
		default:
			results[name] = "unhealthy"
		}
	}
	return results
}

// determineOverallStatus folds per-check verdicts: any unhealthy check
// makes the whole report unhealthy; timeouts degrade without failing.
func (m *HealthManager) determineOverallStatus(checks map[string]string) string {
	status := "healthy"
	for _, v := range checks {
		switch v {
		case "unhealthy":
			return "unhealthy"
		case "timeout":
			status = "degraded"
		}
	}
	return status
}

var (
	healthMu            sync.RWMutex
	globalHealthManager *HealthManager
)

// InitHealthManager installs the process-wide health manager.
func InitHealthManager(version string) {
	healthMu.Lock()
	defer healthMu.Unlock()
	globalHealthManager = NewHealthManager(version)
}

// GetHealthManager returns the process-wide manager, or nil before
// InitHealthManager.
func GetHealthManager() *HealthManager {
	healthMu.RLock()
	defer healthMu.RUnlock()
	return globalHealthManager
}

// Global handler shims over the process-wide manager. Each answers 503
// until InitHealthManager runs.

// HealthHandler serves the aggregate health report.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	if m := GetHealthManager(); m != nil {
		m.HealthHandler(w, r)
		return
	}
	writeUninitialized(w)
}

// LivenessHandler serves the liveness probe.
func LivenessHandler(w http.ResponseWriter, r *http.Request) {
	if m := GetHealthManager(); m != nil {
		m.LivenessHandler(w, r)
		return
	}
	writeUninitialized(w)
}

// ReadinessHandler serves the readiness probe.
func ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if m := GetHealthManager(); m != nil {
		m.ReadinessHandler(w, r)
		return
	}
	writeUninitialized(w)
}

// StartupHandler serves the startup probe.
func StartupHandler(w http.ResponseWriter, r *http.Request) {
	if m := GetHealthManager(); m != nil {
		m.StartupHandler(w, r)
		return
	}
	writeUninitialized(w)
}

func writeUninitialized(w http.ResponseWriter) {
	env := gferrors.NewErrorEnvelope(apperrors.CodeServiceUnavailable, "health manager not initialized")
	writeEnvelope(w, env, http.StatusServiceUnavailable)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeEnvelope(w http.ResponseWriter, env *gferrors.ErrorEnvelope, status int) {
	body := apperrors.HTTPErrorResponse{
		Error: apperrors.HTTPErrorBody{
			Code:      env.Code,
			Message:   env.Message,
			RequestID: env.CorrelationID,
			Details:   env.Context,
		},
	}
	writeJSON(w, status, body)
}
