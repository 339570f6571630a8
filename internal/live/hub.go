// Package live streams engine events to analysts over websockets.
package live

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ashureev/honeypot/internal/domain"
)

const (
	defaultBacklog    = 256
	subscriberBuffer  = 64
	dropLogEveryEvent = 100
)

// Hub fans engine events out to subscribers. Publish never blocks: a
// subscriber that falls behind loses events.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	closed bool

	recent *eventRing
	logger *slog.Logger
}

type subscriber struct {
	sessionID string
	ch        chan domain.Event
	dropped   atomic.Int64
}

func (s *subscriber) wants(ev domain.Event) bool {
	return s.sessionID == "" || s.sessionID == ev.SessionID
}

// NewHub creates a hub that keeps the last backlog events for replay.
func NewHub(backlog int, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if backlog <= 0 {
		backlog = defaultBacklog
	}
	return &Hub{
		subs:   make(map[*subscriber]struct{}),
		recent: newEventRing(backlog),
		logger: logger,
	}
}

// Publish implements the engine's event sink.
// The ring write and the fan-out share the hub lock so a concurrent
// Subscribe sees each event either in its backlog or on its channel.
func (h *Hub) Publish(ev domain.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	h.recent.add(ev)
	if h.closed {
		return
	}
	for sub := range h.subs {
		if !sub.wants(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			if n := sub.dropped.Add(1); n == 1 || n%dropLogEveryEvent == 0 {
				h.logger.Warn("Live subscriber is slow, dropping events", "session_filter", sub.sessionID, "dropped", n)
			}
		}
	}
}

// Subscribe registers a subscriber for sessionID ("" means every session).
// It returns the event channel, the buffered backlog for the filter and a
// cancel func. The channel is closed by cancel or by Close.
func (h *Hub) Subscribe(sessionID string) (<-chan domain.Event, []domain.Event, func()) {
	sub := &subscriber{sessionID: sessionID, ch: make(chan domain.Event, subscriberBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.ch)
		return sub.ch, nil, func() {}
	}
	h.subs[sub] = struct{}{}
	backlog := h.recent.snapshot(sub.wants)
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[sub]; ok {
				delete(h.subs, sub)
				close(sub.ch)
			}
		})
	}
	return sub.ch, backlog, cancel
}

// Count returns the number of live subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close disconnects every subscriber. Later publishes are only buffered.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		close(sub.ch)
		delete(h.subs, sub)
	}
}

// eventRing is a fixed-size ring of the most recent events; the oldest
// entry is overwritten when full.
type eventRing struct {
	mu   sync.Mutex
	buf  []domain.Event
	head int
	full bool
}

func newEventRing(size int) *eventRing {
	return &eventRing{buf: make([]domain.Event, size)}
}

func (r *eventRing) add(ev domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.head] = ev
	r.head = (r.head + 1) % len(r.buf)
	if r.head == 0 {
		r.full = true
	}
}

// snapshot returns the buffered events accepted by keep, oldest first.
func (r *eventRing) snapshot(keep func(domain.Event) bool) []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ordered []domain.Event
	if r.full {
		ordered = append(ordered, r.buf[r.head:]...)
	}
	ordered = append(ordered, r.buf[:r.head]...)

	out := ordered[:0]
	for _, ev := range ordered {
		if keep(ev) {
			out = append(out, ev)
		}
	}
	return out
}
