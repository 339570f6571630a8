package live

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/honeypot/internal/domain"
)

func dialFeed(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, resp, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) wsMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var msg wsMessage
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	return msg
}

func TestWebSocketFeed(t *testing.T) {
	t.Parallel()

	hub := NewHub(16, nil)
	hub.Publish(domain.Event{Type: domain.EventMessage, SessionID: "s1", Text: "earlier"})
	srv := httptest.NewServer(NewHandler(hub, []string{"*"}, false, nil))
	defer srv.Close()

	conn := dialFeed(t, srv, "?session_id=s1")

	first := readFrame(t, conn)
	require.NotNil(t, first.Event)
	assert.Equal(t, "earlier", first.Event.Text, "backlog is replayed first")

	require.Eventually(t, func() bool { return hub.Count() == 1 }, 2*time.Second, 10*time.Millisecond)
	hub.Publish(domain.Event{Type: domain.EventMessage, SessionID: "other"})
	hub.Publish(domain.Event{Type: domain.EventConfirmed, SessionID: "s1", Notes: "Scam detected: phishing."})

	next := readFrame(t, conn)
	require.NotNil(t, next.Event)
	assert.Equal(t, domain.EventConfirmed, next.Event.Type)
	assert.Equal(t, "Scam detected: phishing.", next.Event.Notes)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, conn, wsMessage{Type: "ping"}))
	assert.Equal(t, "pong", readFrame(t, conn).Type)
}

func TestWebSocketClosedOnHubClose(t *testing.T) {
	t.Parallel()

	hub := NewHub(4, nil)
	srv := httptest.NewServer(NewHandler(hub, nil, true, nil))
	defer srv.Close()

	conn := dialFeed(t, srv, "")
	require.Eventually(t, func() bool { return hub.Count() == 1 }, 2*time.Second, 10*time.Millisecond)
	hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var msg wsMessage
	err := wsjson.Read(ctx, conn, &msg)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
}

func TestWebSocketRejectsOrigin(t *testing.T) {
	t.Parallel()

	h := NewHandler(NewHub(4, nil), []string{"https://analyst.example"}, false, nil)
	req := httptest.NewRequest(http.MethodGet, "/ws/sessions", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
