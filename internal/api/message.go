package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/honeypot/internal/domain"
	"github.com/ashureev/honeypot/internal/engine"
	"github.com/ashureev/honeypot/internal/session"
)

const maxHistoryEntries = 200

// MessageRequest is the body of POST /api/message.
type MessageRequest struct {
	SessionID           string         `json:"sessionId" validate:"required,max=256"`
	Message             InboundMessage `json:"message"`
	ConversationHistory []HistoryEntry `json:"conversationHistory"`
	Metadata            map[string]any `json:"metadata,omitempty"`
}

// InboundMessage accepts either a bare string or {sender, text, timestamp}.
type InboundMessage struct {
	Sender    string    `json:"sender"`
	Text      string    `json:"text" validate:"required"`
	Timestamp Timestamp `json:"timestamp"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *InboundMessage) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var text string
		if err := json.Unmarshal(b, &text); err != nil {
			return err
		}
		*m = InboundMessage{Text: text}
		return nil
	}
	type plain InboundMessage
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*m = InboundMessage(p)
	return nil
}

// HistoryEntry is one prior turn supplied by the caller. Blank entries are
// skipped rather than rejected.
type HistoryEntry struct {
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp Timestamp `json:"timestamp"`
}

// Timestamp accepts epoch milliseconds or an RFC 3339 string. Anything else
// decodes to the zero time.
type Timestamp struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
			t.Time = parsed
		}
		return nil
	}
	if ms, err := strconv.ParseInt(string(b), 10, 64); err == nil {
		t.Time = time.UnixMilli(ms)
	}
	return nil
}

// MessageResponse is the reply envelope of POST /api/message.
type MessageResponse struct {
	Status string `json:"status"`
	Reply  string `json:"reply"`
}

// HandleMessage handles POST /api/message.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)

	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			JSON(w, http.StatusRequestEntityTooLarge, MessageResponse{Status: "error", Reply: "Request body too large"})
			return
		}
		JSON(w, http.StatusBadRequest, MessageResponse{Status: "error", Reply: "Invalid request body"})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.logger.Info("Rejected message request", "error", err)
		JSON(w, http.StatusBadRequest, MessageResponse{Status: "error", Reply: "Missing sessionId or message.text"})
		return
	}

	in := engine.Inbound{
		SessionID: req.SessionID,
		Text:      req.Message.Text,
		Sender:    domain.ParseRole(req.Message.Sender),
		History:   toMessages(req.ConversationHistory),
		RequestID: chiMiddleware.GetReqID(r.Context()),
	}

	out, err := h.engine.HandleMessage(r.Context(), in)
	if err != nil {
		if errors.Is(err, engine.ErrInvalidInput) {
			JSON(w, http.StatusBadRequest, MessageResponse{Status: "error", Reply: "Missing sessionId or message.text"})
			return
		}
		h.logger.Error("Error processing message", "error", err, "session_id", req.SessionID)
		JSON(w, http.StatusInternalServerError, MessageResponse{Status: "error", Reply: "Internal server error"})
		return
	}

	h.logger.Info("Message handled",
		"session_id", req.SessionID,
		"request_id", in.RequestID,
		"confirmed", out.Confirmed,
		"turns", len(out.Session.Messages),
		"reported", out.Reported,
	)
	JSON(w, http.StatusOK, MessageResponse{Status: "success", Reply: out.Reply})
}

// toMessages drops blank entries and keeps the most recent
// maxHistoryEntries.
func toMessages(entries []HistoryEntry) []domain.Message {
	out := make([]domain.Message, 0, min(len(entries), maxHistoryEntries))
	for _, e := range entries {
		if strings.TrimSpace(e.Text) == "" {
			continue
		}
		out = append(out, domain.Message{
			Role:      domain.ParseRole(e.Sender),
			Text:      e.Text,
			Timestamp: e.Timestamp.Time,
		})
	}
	if len(out) == 0 {
		return nil
	}
	if len(out) > maxHistoryEntries {
		out = out[len(out)-maxHistoryEntries:]
	}
	return out
}

// sessionIDParam validates a session id taken from the URL.
func sessionIDParam(w http.ResponseWriter, id string) bool {
	if err := session.ValidateID(id); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}
