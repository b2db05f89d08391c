package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/formtrack/internal/exercise"
	"github.com/ashureev/formtrack/internal/store"
)

// Version is reported by the root endpoint.
const Version = "1.0.0"

// Checker reports whether a dependency is usable.
type Checker interface {
	Health(ctx context.Context) error
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) error

// Health calls f.
func (f CheckerFunc) Health(ctx context.Context) error { return f(ctx) }

// HealthHandler handles root and health check endpoints.
type HealthHandler struct {
	repo    store.Repository
	checks  map[string]Checker
	timeout time.Duration
}

// NewHealthHandler creates a new health handler. Extra checks are reported
// by name under /healthz; a nil checker is reported as "disabled".
func NewHealthHandler(repo store.Repository, checks map[string]Checker) *HealthHandler {
	return &HealthHandler{repo: repo, checks: checks, timeout: 5 * time.Second}
}

// Root returns API information.
func (h *HealthHandler) Root(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"message":        "Welcome to the formtrack API",
		"version":        Version,
		"exercise_types": exercise.Types(),
	})
}

// Live is the cheap liveness probe.
func (h *HealthHandler) Live(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]interface{}{
		"status": "healthy",
		"checks": checks,
	}
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "check", "database", "error", err)
		checks["database"] = "unreachable"
		status["status"] = "degraded"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	// Optional dependencies degrade the status without failing the probe.
	for name, c := range h.checks {
		if c == nil {
			checks[name] = "disabled"
			continue
		}
		if err := c.Health(ctx); err != nil {
			slog.Warn("Health check failed", "check", name, "error", err)
			checks[name] = "unreachable"
			status["status"] = "degraded"
			continue
		}
		checks[name] = "ok"
	}

	JSON(w, statusCode, status)
}

// RegisterRoutes registers the root and health routes.
func (h *HealthHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.Root)
	r.Get("/health", h.Live)
	r.Get("/healthz", h.Health)
}
