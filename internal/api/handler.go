// Package api provides HTTP handlers for the honeypot API.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/ashureev/honeypot/internal/engine"
	"github.com/ashureev/honeypot/internal/session"
	"github.com/ashureev/honeypot/internal/store"
)

const defaultMaxRequestBodySize = 64 * 1024

// Handler provides the conversation and session endpoints.
type Handler struct {
	engine   *engine.Engine
	sessions *session.Store
	ledger   store.Repository // nil when the ledger is disabled

	validate     *validator.Validate
	maxBodyBytes int64
	logger       *slog.Logger
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(eng *engine.Engine, sessions *session.Store, ledger store.Repository, maxBodyBytes int64, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxRequestBodySize
	}
	return &Handler{
		engine:       eng,
		sessions:     sessions,
		ledger:       ledger,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		maxBodyBytes: maxBodyBytes,
		logger:       logger,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"status": "error", "error": message})
}
