// Package handlers implements the status server's HTTP handlers.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
)

// Checker reports the health of one subsystem.
type Checker interface {
	CheckHealth(ctx context.Context) error
}

// HealthResponse is the JSON body of the health endpoint.
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// HealthManager aggregates named health checkers.
type HealthManager struct {
	version string

	mu       sync.RWMutex
	checkers map[string]Checker
}

// NewHealthManager creates a manager reporting the given version.
func NewHealthManager(version string) *HealthManager {
	return &HealthManager{
		version:  version,
		checkers: make(map[string]Checker),
	}
}

// RegisterChecker adds a named checker. Later registrations with the
// same name replace earlier ones.
func (m *HealthManager) RegisterChecker(name string, c Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[name] = c
}

// HealthHandler serves the aggregate health of all registered
// checkers. Any failing checker makes the response 503.
func (m *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	checkers := make(map[string]Checker, len(m.checkers))
	for name, c := range m.checkers {
		checkers[name] = c
	}
	m.mu.RUnlock()

	resp := HealthResponse{
		Status:  "healthy",
		Version: m.version,
		Checks:  make(map[string]string, len(checkers)),
	}

	status := http.StatusOK
	for name, c := range checkers {
		if err := c.CheckHealth(r.Context()); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "healthy"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// VersionResponse is the JSON body of the version endpoint.
type VersionResponse struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

// VersionHandler serves static build metadata.
func VersionHandler(info VersionResponse) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(info)
	}
}
