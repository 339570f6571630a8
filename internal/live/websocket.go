package live

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/ashureev/honeypot/internal/domain"
)

const writeTimeout = 5 * time.Second

// Handler upgrades GET /ws/sessions to a websocket live feed.
type Handler struct {
	hub            *Hub
	allowedOrigins []string
	isDev          bool
	logger         *slog.Logger
}

// NewHandler creates a websocket handler for hub.
func NewHandler(hub *Hub, allowedOrigins []string, isDev bool, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{hub: hub, allowedOrigins: allowedOrigins, isDev: isDev, logger: logger}
}

// wsMessage is every frame sent or received on the feed.
type wsMessage struct {
	Type  string        `json:"type"`
	Event *domain.Event `json:"event,omitempty"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	log := h.logger.With("session_filter", sessionID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Error("Failed to accept WebSocket", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "feed ended"); closeErr != nil {
			log.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	events, backlog, unsubscribe := h.hub.Subscribe(sessionID)
	defer unsubscribe()
	log.Info("Live feed connected", "backlog", len(backlog))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		defer cancel()
		h.readLoop(ctx, ws, log)
	}()

	for i := range backlog {
		if err := h.write(ctx, ws, wsMessage{Type: "event", Event: &backlog[i]}); err != nil {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("Live feed disconnected")
			return
		case ev, ok := <-events:
			if !ok {
				_ = ws.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			if err := h.write(ctx, ws, wsMessage{Type: "event", Event: &ev}); err != nil {
				log.Debug("Live feed write failed", "error", err)
				return
			}
		}
	}
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, log *slog.Logger) {
	for {
		var msg wsMessage
		if err := wsjson.Read(ctx, ws, &msg); err != nil {
			if websocket.CloseStatus(err) != -1 {
				log.Debug("WebSocket closed by client")
			} else if ctx.Err() == nil {
				log.Debug("WebSocket read error", "error", err)
			}
			return
		}
		if msg.Type == "ping" {
			if err := h.write(ctx, ws, wsMessage{Type: "pong"}); err != nil {
				return
			}
		}
	}
}

func (h *Handler) write(ctx context.Context, ws *websocket.Conn, msg wsMessage) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, ws, msg)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(h.allowedOrigins, "*") || slices.Contains(h.allowedOrigins, origin) {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin)
	return false
}
