// Package domain contains core domain types for the honeypot service.
package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Role identifies who authored a message in a conversation.
type Role string

const (
	// RoleScammer marks messages received from the counterpart.
	RoleScammer Role = "scammer"
	// RoleAgent marks replies produced by the honeypot persona.
	RoleAgent Role = "user"
)

// ParseRole maps a free-form sender label to a Role. Unknown or empty
// labels are treated as the counterpart.
func ParseRole(s string) Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user", "agent", "assistant", "victim", "honeypot":
		return RoleAgent
	default:
		return RoleScammer
	}
}

// Message is a single entry in a session's conversation log.
type Message struct {
	Role      Role      `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// DetectionState tracks whether a session has been confirmed as a scam.
type DetectionState int

const (
	// StateUnconfirmed is the initial state.
	StateUnconfirmed DetectionState = iota
	// StateConfirmed is terminal; a session never leaves it.
	StateConfirmed
)

func (s DetectionState) String() string {
	switch s {
	case StateUnconfirmed:
		return "unconfirmed"
	case StateConfirmed:
		return "confirmed"
	default:
		return fmt.Sprintf("DetectionState(%d)", int(s))
	}
}

// MarshalText renders the state by name in JSON payloads.
func (s DetectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name produced by MarshalText.
func (s *DetectionState) UnmarshalText(b []byte) error {
	switch string(b) {
	case "unconfirmed":
		*s = StateUnconfirmed
	case "confirmed":
		*s = StateConfirmed
	default:
		return fmt.Errorf("unknown detection state %q", b)
	}
	return nil
}

// Session holds the state of one conversation with a counterpart.
type Session struct {
	ID          string
	Messages    []Message
	State       DetectionState
	Evidence    Evidence
	Keywords    []string
	Reported    bool
	Notes       string
	StartedAt   time.Time
	ConfirmedAt time.Time
	UpdatedAt   time.Time
}

// Confirmed reports whether the session has been confirmed as a scam.
func (s *Session) Confirmed() bool {
	return s.State == StateConfirmed
}

// TurnCount returns the number of messages recorded so far.
func (s *Session) TurnCount() int {
	return len(s.Messages)
}

// Recent returns the last n messages of the log.
func (s *Session) Recent(n int) []Message {
	if n <= 0 || n >= len(s.Messages) {
		return s.Messages
	}
	return s.Messages[len(s.Messages)-n:]
}

// Clone returns a deep copy that shares no slices with s.
func (s *Session) Clone() Session {
	out := *s
	out.Messages = slices.Clone(s.Messages)
	out.Keywords = slices.Clone(s.Keywords)
	out.Evidence = s.Evidence.Canonical()
	return out
}

// Metrics is a read-only view derived from a session's timestamps.
type Metrics struct {
	ElapsedSeconds         int64          `json:"engagementDurationSeconds"`
	TurnCount              int            `json:"turnCount"`
	DetectionState         DetectionState `json:"detectionState"`
	TimeToDetectionSeconds *int64         `json:"timeToDetectionSeconds,omitempty"`
}

// MetricsAt computes metrics for s as of now.
func (s *Session) MetricsAt(now time.Time) Metrics {
	m := Metrics{
		ElapsedSeconds: int64(now.Sub(s.StartedAt) / time.Second),
		TurnCount:      len(s.Messages),
		DetectionState: s.State,
	}
	if m.ElapsedSeconds < 0 {
		m.ElapsedSeconds = 0
	}
	if s.Confirmed() && !s.ConfirmedAt.IsZero() {
		ttd := int64(s.ConfirmedAt.Sub(s.StartedAt) / time.Second)
		m.TimeToDetectionSeconds = &ttd
	}
	return m
}
