package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/honeypot/internal/session"
	"github.com/ashureev/honeypot/internal/store"
)

const healthCheckTimeout = 5 * time.Second

// ReportStats exposes report delivery counters.
type ReportStats interface {
	Stats() (delivered, failed, dropped int64)
}

// HealthChecker is an optional dependency probe, such as the agent sidecar.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	sessions *session.Store
	ledger   store.Repository
	reports  ReportStats
	agent    HealthChecker
}

// NewHealthHandler creates a health handler. ledger, reports and agent may be nil.
func NewHealthHandler(sessions *session.Store, ledger store.Repository, reports ReportStats, agent HealthChecker) *HealthHandler {
	return &HealthHandler{sessions: sessions, ledger: ledger, reports: reports, agent: agent}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"sessions":  h.sessions.Len(),
		"checks":    checks,
	}
	statusCode := http.StatusOK

	switch {
	case h.ledger == nil:
		checks["database"] = "disabled"
	case h.ledger.Ping(ctx) != nil:
		slog.Error("Health check failed", "dependency", "database")
		status["status"] = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	default:
		checks["database"] = "ok"
	}

	if h.agent != nil {
		if err := h.agent.Health(ctx); err != nil {
			slog.Warn("Agent health check failed", "error", err)
			status["status"] = "degraded"
			checks["agent"] = "unreachable"
		} else {
			checks["agent"] = "ok"
		}
	}

	if h.reports != nil {
		delivered, failed, dropped := h.reports.Stats()
		status["reports"] = map[string]int64{"delivered": delivered, "failed": failed, "dropped": dropped}
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}
