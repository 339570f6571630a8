// Package report decides when a session has earned a report and delivers
// it at most once.
package report

import (
	"log/slog"

	"github.com/ashureev/honeypot/internal/domain"
)

// DefaultMinTurns is two full exchanges.
const DefaultMinTurns = 4

// Policy is the sufficiency rule for reporting.
type Policy struct {
	MinTurns int
}

// DefaultPolicy returns the standard policy.
func DefaultPolicy() Policy {
	return Policy{MinTurns: DefaultMinTurns}
}

// Eligible reports whether s is confirmed, carries at least one actionable
// identifier and has reached the minimum number of logged messages.
func (p Policy) Eligible(s domain.Session) bool {
	minTurns := p.MinTurns
	if minTurns <= 0 {
		minTurns = DefaultMinTurns
	}
	return s.Confirmed() && s.Evidence.HasActionable() && len(s.Messages) >= minTurns
}

// Marker flips a session's reported flag atomically.
type Marker interface {
	MarkReportedIfFirst(id string) (bool, error)
}

// Gate combines the sufficiency policy with the at-most-once flag.
type Gate struct {
	policy Policy
	marker Marker
	logger *slog.Logger
}

// NewGate creates a gate backed by marker.
func NewGate(policy Policy, marker Marker, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{policy: policy, marker: marker, logger: logger}
}

// ShouldReport reports whether s is eligible and not yet reported.
func (g *Gate) ShouldReport(s domain.Session) bool {
	return !s.Reported && g.policy.Eligible(s)
}

// MarkReportedIfFirst returns true for exactly one caller per session.
// The flag is never reset, whatever happens to the delivery afterwards.
func (g *Gate) MarkReportedIfFirst(id string) bool {
	won, err := g.marker.MarkReportedIfFirst(id)
	if err != nil {
		g.logger.Warn("Report gate rejected session", "session_id", id, "error", err)
		return false
	}
	return won
}

// TryAcquire evaluates the policy and, if it holds, attempts the flip.
func (g *Gate) TryAcquire(s domain.Session) bool {
	return g.ShouldReport(s) && g.MarkReportedIfFirst(s.ID)
}
