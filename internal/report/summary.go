package report

import (
	"time"

	"github.com/ashureev/honeypot/internal/domain"
)

// Intelligence is the evidence section of a report.
type Intelligence struct {
	BankAccounts       []string `json:"bankAccounts"`
	UPIHandles         []string `json:"upiIds"`
	PhishingURLs       []string `json:"phishingLinks"`
	PhoneNumbers       []string `json:"phoneNumbers"`
	Emails             []string `json:"emails"`
	RoutingCodes       []string `json:"ifscCodes"`
	ReferenceIDs       []string `json:"referenceNumbers"`
	SuspiciousKeywords []string `json:"suspiciousKeywords"`
}

// Summary is the payload delivered to the reporting endpoint.
type Summary struct {
	SessionID                 string       `json:"sessionId"`
	ScamDetected              bool         `json:"scamDetected"`
	TotalMessagesExchanged    int          `json:"totalMessagesExchanged"`
	ExtractedIntelligence     Intelligence `json:"extractedIntelligence"`
	AgentNotes                string       `json:"agentNotes"`
	EngagementDurationSeconds int64        `json:"engagementDurationSeconds"`
	TurnsCompleted            int          `json:"turnsCompleted"`
}

const defaultAgentNotes = "Scammer engaged via honeypot system"

// BuildSummary renders session s as a report payload as of now.
func BuildSummary(s domain.Session, now time.Time) Summary {
	ev := s.Evidence.Canonical()
	keywords := s.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	notes := s.Notes
	if notes == "" {
		notes = defaultAgentNotes
	}
	m := s.MetricsAt(now)

	return Summary{
		SessionID:              s.ID,
		ScamDetected:           s.Confirmed(),
		TotalMessagesExchanged: len(s.Messages),
		ExtractedIntelligence: Intelligence{
			BankAccounts:       ev.BankAccounts,
			UPIHandles:         ev.UPIHandles,
			PhishingURLs:       ev.PhishingURLs,
			PhoneNumbers:       ev.PhoneNumbers,
			Emails:             ev.Emails,
			RoutingCodes:       ev.RoutingCodes,
			ReferenceIDs:       ev.ReferenceIDs,
			SuspiciousKeywords: keywords,
		},
		AgentNotes:                notes,
		EngagementDurationSeconds: m.ElapsedSeconds,
		TurnsCompleted:            len(s.Messages) / 2,
	}
}
