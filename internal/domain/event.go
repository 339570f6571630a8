package domain

import "time"

// EventType names an engine event published to live observers.
type EventType string

// Engine events.
const (
	EventMessage   EventType = "message"
	EventEvidence  EventType = "evidence"
	EventConfirmed EventType = "confirmed"
	EventReported  EventType = "reported"
	EventEnded     EventType = "ended"
)

// Event is a change to one session, suitable for streaming to analysts.
type Event struct {
	Type      EventType    `json:"type"`
	SessionID string       `json:"sessionId"`
	Role      Role         `json:"sender,omitempty"`
	Text      string       `json:"text,omitempty"`
	Evidence  *Evidence    `json:"evidence,omitempty"`
	Notes     string       `json:"notes,omitempty"`
	ReportID  string       `json:"reportId,omitempty"`
	Status    ReportStatus `json:"status,omitempty"`
	At        time.Time    `json:"at"`
}
