package report

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/honeypot/internal/domain"
	"github.com/ashureev/honeypot/internal/session"
)

func confirmedSession(t *testing.T, store *session.Store, id string, turns int, ev domain.Evidence) domain.Session {
	t.Helper()
	for i := 0; i < turns; i++ {
		role := domain.RoleScammer
		if i%2 == 1 {
			role = domain.RoleAgent
		}
		_, err := store.AppendMessage(id, role, "turn")
		require.NoError(t, err)
	}
	_, err := store.UpdateEvidence(id, ev)
	require.NoError(t, err)
	s, _, err := store.MarkConfirmed(id, "")
	require.NoError(t, err)
	return s
}

func TestPolicyTurnThreshold(t *testing.T) {
	t.Parallel()

	store := session.NewStore()
	gate := NewGate(DefaultPolicy(), store, nil)
	phoneOnly := domain.Evidence{PhoneNumbers: []string{"9876543210"}}

	s := confirmedSession(t, store, "s1", 3, phoneOnly)
	assert.False(t, gate.ShouldReport(s), "3 turns is below the threshold")

	s, err := store.AppendMessage("s1", domain.RoleAgent, "4th")
	require.NoError(t, err)
	assert.True(t, gate.ShouldReport(s), "4th turn with the same evidence reports")
}

func TestPolicyRequiresConfirmationAndActionableEvidence(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	msgs := make([]domain.Message, 6)

	assert.False(t, p.Eligible(domain.Session{
		Messages: msgs,
		Evidence: domain.Evidence{PhoneNumbers: []string{"9876543210"}},
	}), "unconfirmed")

	assert.False(t, p.Eligible(domain.Session{
		Messages: msgs,
		State:    domain.StateConfirmed,
		Evidence: domain.Evidence{Emails: []string{"a@b.com"}, RoutingCodes: []string{"SBIN0001234"}},
	}), "emails and routing codes alone are not actionable")

	assert.True(t, p.Eligible(domain.Session{
		Messages: msgs,
		State:    domain.StateConfirmed,
		Evidence: domain.Evidence{PhishingURLs: []string{"http://fake.xyz"}},
	}))

	assert.True(t, Policy{MinTurns: 2}.Eligible(domain.Session{
		Messages: msgs[:2],
		State:    domain.StateConfirmed,
		Evidence: domain.Evidence{UPIHandles: []string{"x@ybl"}},
	}))
}

func TestGateTryAcquireExactlyOnce(t *testing.T) {
	t.Parallel()

	store := session.NewStore()
	gate := NewGate(DefaultPolicy(), store, nil)
	s := confirmedSession(t, store, "race", 4, domain.Evidence{UPIHandles: []string{"x@ybl"}})

	const n = 50
	var (
		wins atomic.Int32
		wg   sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if gate.TryAcquire(s) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())

	after, _, err := store.Lookup("race")
	require.NoError(t, err)
	assert.True(t, after.Reported)
	assert.False(t, gate.ShouldReport(after))
}

func TestGateInvalidIDNeverWins(t *testing.T) {
	t.Parallel()

	gate := NewGate(DefaultPolicy(), session.NewStore(), nil)
	assert.False(t, gate.MarkReportedIfFirst(""))
}

func TestBuildSummary(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	s := domain.Session{
		ID:        "abc",
		State:     domain.StateConfirmed,
		Messages:  make([]domain.Message, 5),
		Evidence:  domain.Evidence{UPIHandles: []string{"x@ybl"}, PhoneNumbers: []string{"9876543210"}},
		Keywords:  []string{"otp", "urgent"},
		StartedAt: start,
	}

	sum := BuildSummary(s, start.Add(2*time.Minute))
	assert.Equal(t, "abc", sum.SessionID)
	assert.True(t, sum.ScamDetected)
	assert.Equal(t, 5, sum.TotalMessagesExchanged)
	assert.Equal(t, 2, sum.TurnsCompleted)
	assert.Equal(t, int64(120), sum.EngagementDurationSeconds)
	assert.Equal(t, []string{"x@ybl"}, sum.ExtractedIntelligence.UPIHandles)
	assert.Equal(t, []string{"otp", "urgent"}, sum.ExtractedIntelligence.SuspiciousKeywords)
	assert.NotNil(t, sum.ExtractedIntelligence.BankAccounts)
	assert.Equal(t, defaultAgentNotes, sum.AgentNotes)
}
