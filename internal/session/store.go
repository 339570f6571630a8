// Package session owns per-conversation state.
//
// A Store maps session ids to entries. The map is guarded by a store-level
// RWMutex and every entry carries its own mutex, so operations on different
// sessions never contend and every read-modify-write on one session is
// serialized. Callers only ever receive copies.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/honeypot/internal/domain"
)

// MaxIDLength bounds session ids accepted by the store.
const MaxIDLength = 256

// ErrInvalidID is returned for empty, blank or oversized session ids.
var ErrInvalidID = errors.New("invalid session id")

type entry struct {
	mu      sync.Mutex
	session domain.Session
	deleted bool
}

// Store holds all live sessions.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry

	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger used for lifecycle messages.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		entries: make(map[string]*entry),
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ValidateID checks that id is usable as a session key.
func ValidateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidID)
	}
	if len(id) > MaxIDLength {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidID, MaxIDLength)
	}
	return nil
}

func (s *Store) newSession(id string) domain.Session {
	now := s.now()
	return domain.Session{
		ID:        id,
		Messages:  []domain.Message{},
		State:     domain.StateUnconfirmed,
		Evidence:  domain.NewEvidence(),
		Keywords:  []string{},
		StartedAt: now,
		UpdatedAt: now,
	}
}

func (s *Store) entryFor(id string, create bool) *entry {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if ok || !create {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		return e
	}
	e = &entry{session: s.newSession(id)}
	s.entries[id] = e
	s.logger.Debug("Session created", "session_id", id)
	return e
}

// acquire returns the locked entry for id. An entry removed between lookup
// and lock is skipped so the caller never mutates an orphan.
func (s *Store) acquire(id string, create bool) (*entry, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	for {
		e := s.entryFor(id, create)
		if e == nil {
			return nil, nil
		}
		e.mu.Lock()
		if !e.deleted {
			return e, nil
		}
		e.mu.Unlock()
	}
}

// update runs fn on the session for id under its lock, creating the
// session first if needed, and returns a copy of the result.
func (s *Store) update(id string, fn func(*domain.Session)) (domain.Session, error) {
	e, err := s.acquire(id, true)
	if err != nil {
		return domain.Session{}, err
	}
	defer e.mu.Unlock()

	fn(&e.session)
	return e.session.Clone(), nil
}

// GetOrCreate returns the session for id, creating an empty one if none
// exists. Concurrent callers with the same id observe the same session.
func (s *Store) GetOrCreate(id string) (domain.Session, error) {
	return s.update(id, func(*domain.Session) {})
}

// Lookup returns the session for id without creating it.
func (s *Store) Lookup(id string) (domain.Session, bool, error) {
	e, err := s.acquire(id, false)
	if err != nil || e == nil {
		return domain.Session{}, false, err
	}
	defer e.mu.Unlock()
	return e.session.Clone(), true, nil
}

// AppendMessage records a message at the end of the session log.
func (s *Store) AppendMessage(id string, role domain.Role, text string) (domain.Session, error) {
	return s.update(id, func(sess *domain.Session) {
		now := s.now()
		sess.Messages = append(sess.Messages, domain.Message{Role: role, Text: text, Timestamp: now})
		sess.UpdatedAt = now
	})
}

// SeedHistory appends prior turns to a session whose log is still empty.
// It reports whether the history was applied.
func (s *Store) SeedHistory(id string, history []domain.Message) (domain.Session, bool, error) {
	var seeded bool
	sess, err := s.update(id, func(sess *domain.Session) {
		if len(sess.Messages) > 0 || len(history) == 0 {
			return
		}
		now := s.now()
		for _, m := range history {
			if m.Timestamp.IsZero() {
				m.Timestamp = now
			}
			sess.Messages = append(sess.Messages, m)
		}
		sess.UpdatedAt = now
		seeded = true
	})
	return sess, seeded, err
}

// MarkConfirmed moves the session to the confirmed state. It reports false
// and leaves the session unchanged when it was already confirmed.
func (s *Store) MarkConfirmed(id, notes string) (domain.Session, bool, error) {
	var changed bool
	sess, err := s.update(id, func(sess *domain.Session) {
		if sess.Confirmed() {
			return
		}
		now := s.now()
		sess.State = domain.StateConfirmed
		sess.ConfirmedAt = now
		sess.UpdatedAt = now
		if notes != "" {
			sess.Notes = notes
		}
		changed = true
	})
	return sess, changed, err
}

// UpdateEvidence merges ev into the session's evidence.
func (s *Store) UpdateEvidence(id string, ev domain.Evidence) (domain.Session, error) {
	return s.update(id, func(sess *domain.Session) {
		sess.Evidence = domain.Merge(sess.Evidence, ev)
		sess.UpdatedAt = s.now()
	})
}

// AddKeywords adds keywords to the session's keyword set.
func (s *Store) AddKeywords(id string, keywords []string) (domain.Session, error) {
	return s.update(id, func(sess *domain.Session) {
		if len(keywords) == 0 {
			return
		}
		merged := append(slices.Clone(sess.Keywords), keywords...)
		merged = slices.DeleteFunc(merged, func(k string) bool { return k == "" })
		slices.Sort(merged)
		sess.Keywords = slices.Compact(merged)
		sess.UpdatedAt = s.now()
	})
}

// Metrics returns engagement metrics computed at call time.
func (s *Store) Metrics(id string) (domain.Metrics, error) {
	e, err := s.acquire(id, true)
	if err != nil {
		return domain.Metrics{}, err
	}
	defer e.mu.Unlock()
	return e.session.MetricsAt(s.now()), nil
}

// MarkReportedIfFirst sets the reported flag. Exactly one caller per
// session ever receives true.
func (s *Store) MarkReportedIfFirst(id string) (bool, error) {
	e, err := s.acquire(id, true)
	if err != nil {
		return false, err
	}
	defer e.mu.Unlock()

	if e.session.Reported {
		return false, nil
	}
	e.session.Reported = true
	e.session.UpdatedAt = s.now()
	return true, nil
}

// Delete removes the session. A later GetOrCreate starts fresh.
func (s *Store) Delete(id string) (bool, error) {
	if err := ValidateID(id); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return false, nil
	}
	e.mu.Lock()
	e.deleted = true
	e.mu.Unlock()
	delete(s.entries, id)

	s.logger.Debug("Session deleted", "session_id", id)
	return true, nil
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// SweepIdle removes sessions that have not been updated for longer than
// maxIdle and returns their ids.
func (s *Store) SweepIdle(maxIdle time.Duration) []string {
	if maxIdle <= 0 {
		return nil
	}
	cutoff := s.now().Add(-maxIdle)

	s.mu.Lock()
	defer s.mu.Unlock()

	var evicted []string
	for id, e := range s.entries {
		e.mu.Lock()
		if e.session.UpdatedAt.Before(cutoff) {
			e.deleted = true
			delete(s.entries, id)
			evicted = append(evicted, id)
		}
		e.mu.Unlock()
	}
	slices.Sort(evicted)
	return evicted
}
