package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/honeypot/internal/domain"
	"github.com/ashureev/honeypot/internal/engine"
	"github.com/ashureev/honeypot/internal/report"
)

// SessionResponse is the body of GET /api/session/{id}.
type SessionResponse struct {
	Status                 string              `json:"status"`
	SessionID              string              `json:"sessionId"`
	ScamDetected           bool                `json:"scamDetected"`
	Reported               bool                `json:"reported"`
	TotalMessagesExchanged int                 `json:"totalMessagesExchanged"`
	ExtractedIntelligence  report.Intelligence `json:"extractedIntelligence"`
	AgentNotes             string              `json:"agentNotes,omitempty"`
	Metrics                domain.Metrics      `json:"metrics"`
}

// EndResponse is the body of POST /api/session/{id}/end.
type EndResponse struct {
	SessionResponse
	ReportSent bool   `json:"reportSent"`
	Reason     string `json:"reason"`
	ReportID   string `json:"reportId,omitempty"`
	Error      string `json:"error,omitempty"`
}

// RegisterRoutes registers the API routes on r. Authentication and rate
// limiting are applied by the caller.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/message", h.HandleMessage)
	r.Route("/session/{id}", func(r chi.Router) {
		r.Get("/", h.GetSession)
		r.Delete("/", h.DeleteSession)
		r.Post("/end", h.EndSession)
	})
	r.Get("/reports/{id}", h.GetReports)
}

// GetSession handles GET /api/session/{id}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !sessionIDParam(w, id) {
		return
	}
	s, ok, err := h.sessions.Lookup(id)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if !ok {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	JSON(w, http.StatusOK, sessionView(s, time.Now()))
}

// EndSession handles POST /api/session/{id}/end. It reports the session
// synchronously if the reporting gate is still open.
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !sessionIDParam(w, id) {
		return
	}

	res, err := h.engine.EndSession(r.Context(), id)
	switch {
	case errors.Is(err, engine.ErrSessionNotFound):
		Error(w, http.StatusNotFound, "session not found")
		return
	case errors.Is(err, engine.ErrInvalidInput):
		Error(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.logger.Error("End session failed", "session_id", id, "error", err)
		Error(w, http.StatusInternalServerError, "internal server error")
		return
	}

	s, _, _ := h.sessions.Lookup(id)
	resp := EndResponse{
		SessionResponse: sessionView(s, time.Now()),
		ReportSent:      res.Reported && res.Err == nil,
		Reason:          res.Reason,
	}
	switch {
	case res.Reported && res.Err == nil:
		resp.Status = "success"
	case res.Reported:
		resp.Status = "partial"
		resp.Error = res.Err.Error()
	default:
		resp.Status = "skipped"
	}
	if res.Record != nil {
		resp.ReportID = res.Record.ID
	}
	JSON(w, http.StatusOK, resp)
}

// DeleteSession handles DELETE /api/session/{id}.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !sessionIDParam(w, id) {
		return
	}
	deleted, err := h.sessions.Delete(id)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if !deleted {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	h.logger.Info("Session deleted", "session_id", id)
	JSON(w, http.StatusOK, map[string]any{"status": "success", "sessionId": id, "deleted": true})
}

// GetReports handles GET /api/reports/{id}: the ledger records for a
// session, newest first.
func (h *Handler) GetReports(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !sessionIDParam(w, id) {
		return
	}
	if h.ledger == nil {
		Error(w, http.StatusNotFound, "report ledger disabled")
		return
	}

	latest, err := h.ledger.GetReport(r.Context(), id)
	if err != nil {
		h.logger.Error("Report lookup failed", "session_id", id, "error", err)
		Error(w, http.StatusInternalServerError, "report lookup failed")
		return
	}
	if latest == nil {
		Error(w, http.StatusNotFound, "no report for session")
		return
	}
	all, err := h.ledger.ListReports(r.Context(), id)
	if err != nil {
		h.logger.Error("Report listing failed", "session_id", id, "error", err)
		Error(w, http.StatusInternalServerError, "report lookup failed")
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"latest":  latest,
		"reports": all,
	})
}

func sessionView(s domain.Session, now time.Time) SessionResponse {
	sum := report.BuildSummary(s, now)
	return SessionResponse{
		Status:                 "success",
		SessionID:              s.ID,
		ScamDetected:           s.Confirmed(),
		Reported:               s.Reported,
		TotalMessagesExchanged: len(s.Messages),
		ExtractedIntelligence:  sum.ExtractedIntelligence,
		AgentNotes:             s.Notes,
		Metrics:                s.MetricsAt(now),
	}
}
