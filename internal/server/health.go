// Package server provides health probes and graceful shutdown for the
// HTTP service.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/efebarandurmaz/ragdemo/internal/vector"
)

// HealthStatus represents the health state of a component.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDegraded  HealthStatus = "degraded"
)

// checkTimeout bounds a full /health run.
const checkTimeout = 5 * time.Second

// HealthCheck represents a single health check.
type HealthCheck struct {
	Name    string            `json:"name"`
	Status  HealthStatus      `json:"status"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// HealthResponse is the response from health endpoints.
type HealthResponse struct {
	Status    HealthStatus  `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Version   string        `json:"version,omitempty"`
	Checks    []HealthCheck `json:"checks,omitempty"`
}

// HealthChecker is a function that performs a health check.
type HealthChecker func(ctx context.Context) HealthCheck

// HealthServer serves liveness, readiness and component health.
type HealthServer struct {
	mu      sync.RWMutex
	checks  map[string]HealthChecker
	version string
	ready   bool
}

// HealthConfig configures the health server.
type HealthConfig struct {
	Version string
}

// NewHealthServer creates a new health server. It starts not ready.
func NewHealthServer(config *HealthConfig) *HealthServer {
	version := ""
	if config != nil {
		version = config.Version
	}

	return &HealthServer{
		checks:  make(map[string]HealthChecker),
		version: version,
	}
}

// RegisterCheck adds a health check.
func (s *HealthServer) RegisterCheck(name string, checker HealthChecker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = checker
}

// SetReady marks the server as ready to accept traffic.
func (s *HealthServer) SetReady(ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = ready
}

// Routes returns the probe handlers keyed by path, including the
// Kubernetes-style z aliases.
func (s *HealthServer) Routes() map[string]http.Handler {
	health := http.HandlerFunc(s.handleHealth)
	ready := http.HandlerFunc(s.handleReady)
	live := http.HandlerFunc(s.handleLive)
	return map[string]http.Handler{
		"/health":  health,
		"/ready":   ready,
		"/live":    live,
		"/healthz": health,
		"/readyz":  ready,
		"/livez":   live,
	}
}

// Handler returns an http.Handler for the health endpoints.
func (s *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()
	for path, h := range s.Routes() {
		mux.Handle(path, h)
	}
	return mux
}

// handleHealth handles the /health endpoint - full health check.
func (s *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	s.mu.RLock()
	checks := make(map[string]HealthChecker, len(s.checks))
	for k, v := range s.checks {
		checks[k] = v
	}
	version := s.version
	s.mu.RUnlock()

	response := HealthResponse{
		Status:    HealthStatusHealthy,
		Timestamp: time.Now().UTC(),
		Version:   version,
		Checks:    make([]HealthCheck, 0, len(checks)),
	}

	for name, checker := range checks {
		check := checker(ctx)
		check.Name = name
		response.Checks = append(response.Checks, check)

		if check.Status == HealthStatusUnhealthy {
			response.Status = HealthStatusUnhealthy
		} else if check.Status == HealthStatusDegraded && response.Status == HealthStatusHealthy {
			response.Status = HealthStatusDegraded
		}
	}

	statusCode := http.StatusOK
	if response.Status == HealthStatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, response)
}

// handleReady handles the /ready endpoint - readiness probe.
func (s *HealthServer) handleReady(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	ready := s.ready
	s.mu.RUnlock()
	probe(w, ready)
}

// handleLive handles the /live endpoint. A process that answers is live.
func (s *HealthServer) handleLive(w http.ResponseWriter, r *http.Request) {
	probe(w, true)
}

func probe(w http.ResponseWriter, ok bool) {
	response := HealthResponse{
		Status:    HealthStatusHealthy,
		Timestamp: time.Now().UTC(),
	}
	if !ok {
		response.Status = HealthStatusUnhealthy
		writeJSON(w, http.StatusServiceUnavailable, response)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode health response", "error", err)
	}
}

// Common health checkers

// VectorDBHealthChecker reports the networked vector database. An
// unreachable database is degraded, not unhealthy, since the store keeps
// serving from its fallback.
func VectorDBHealthChecker(target string, reachable func(ctx context.Context) bool) HealthChecker {
	return func(ctx context.Context) HealthCheck {
		details := map[string]string{"target": target}
		if !reachable(ctx) {
			return HealthCheck{
				Status:  HealthStatusDegraded,
				Message: "Vector database unreachable, using in-memory fallback",
				Details: details,
			}
		}
		return HealthCheck{
			Status:  HealthStatusHealthy,
			Message: "Vector database connection OK",
			Details: details,
		}
	}
}

// StoreHealthChecker reports the backend currently serving the document
// store. A status error means the backend refused the request.
func StoreHealthChecker(statusFn func(ctx context.Context) (vector.Status, error)) HealthChecker {
	return func(ctx context.Context) HealthCheck {
		st, err := statusFn(ctx)
		if err != nil {
			return HealthCheck{
				Status:  HealthStatusUnhealthy,
				Message: "Document store failed: " + err.Error(),
			}
		}
		check := HealthCheck{
			Status:  HealthStatusHealthy,
			Message: "Document store OK",
			Details: map[string]string{
				"storage_type":   string(st.StorageType),
				"document_count": strconv.Itoa(st.DocumentCount),
			},
		}
		if !st.BackendReady {
			check.Status = HealthStatusDegraded
			check.Message = "Document store serving from in-memory fallback"
		}
		return check
	}
}

// WorkflowHealthChecker reports whether the retrieval pipeline is built.
func WorkflowHealthChecker(ready func() bool) HealthChecker {
	return func(ctx context.Context) HealthCheck {
		if !ready() {
			return HealthCheck{
				Status:  HealthStatusUnhealthy,
				Message: "Retrieval workflow not constructed",
			}
		}
		return HealthCheck{
			Status:  HealthStatusHealthy,
			Message: "Retrieval workflow ready",
		}
	}
}
