package domain

import (
	"encoding/json"
	"time"
)

// ReportStatus is the delivery outcome of a report.
type ReportStatus string

// Report statuses.
const (
	ReportDelivered ReportStatus = "delivered"
	ReportFailed    ReportStatus = "failed"
	ReportDropped   ReportStatus = "dropped"
)

// ReportRecord is the ledger entry for one report attempt.
type ReportRecord struct {
	ID          string          `json:"reportId"`
	SessionID   string          `json:"sessionId"`
	Status      ReportStatus    `json:"status"`
	Error       string          `json:"error,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	CompletedAt time.Time       `json:"completedAt"`
}
