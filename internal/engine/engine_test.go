package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/honeypot/internal/agent"
	"github.com/ashureev/honeypot/internal/domain"
	"github.com/ashureev/honeypot/internal/intel"
	"github.com/ashureev/honeypot/internal/report"
	"github.com/ashureev/honeypot/internal/session"
)

type classifyFunc func(ctx context.Context, text string, history []domain.Message) (agent.Verdict, error)

func (f classifyFunc) Classify(ctx context.Context, text string, history []domain.Message) (agent.Verdict, error) {
	return f(ctx, text, history)
}

type respondFunc func(ctx context.Context, text string, history []domain.Message, ev domain.Evidence) (string, error)

func (f respondFunc) Respond(ctx context.Context, text string, history []domain.Message, ev domain.Evidence) (string, error) {
	return f(ctx, text, history, ev)
}

type fakeDispatcher struct {
	mu         sync.Mutex
	dispatched []report.Summary
	sent       []report.Summary
	sendErr    error
}

func (f *fakeDispatcher) Dispatch(s report.Summary) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatched = append(f.dispatched, s)
	return fmt.Sprintf("r%d", len(f.dispatched))
}

func (f *fakeDispatcher) Send(_ context.Context, s report.Summary) (domain.ReportRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, s)
	status := domain.ReportDelivered
	if f.sendErr != nil {
		status = domain.ReportFailed
	}
	return domain.ReportRecord{ID: "sync-1", SessionID: s.SessionID, Status: status}, f.sendErr
}

func (f *fakeDispatcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.dispatched)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *recordingPublisher) Publish(ev domain.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) types() []domain.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.EventType, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

type harness struct {
	engine     *Engine
	store      *session.Store
	dispatcher *fakeDispatcher
	classified atomic.Int32
}

func newHarness(t *testing.T, classify classifyFunc, respond respondFunc, fallback agent.FallbackPolicy, opts ...Option) *harness {
	t.Helper()
	h := &harness{store: session.NewStore(), dispatcher: &fakeDispatcher{}}
	counting := classifyFunc(func(ctx context.Context, text string, history []domain.Message) (agent.Verdict, error) {
		h.classified.Add(1)
		return classify(ctx, text, history)
	})
	if respond == nil {
		respond = func(context.Context, string, []domain.Message, domain.Evidence) (string, error) {
			return "oh no, which account should I use?", nil
		}
	}
	svc := agent.NewService(counting, respond, agent.Config{
		ClassifierTimeout: time.Second,
		ResponderTimeout:  time.Second,
		Fallback:          fallback,
	}, nil)
	gate := report.NewGate(report.DefaultPolicy(), h.store, nil)
	h.engine = New(h.store, intel.NewDefault(), svc, gate, h.dispatcher, opts...)
	return h
}

func alwaysScam(context.Context, string, []domain.Message) (agent.Verdict, error) {
	return agent.Verdict{IsScam: true, Confidence: 90, Category: "bank_fraud", Rationale: "asks for OTP"}, nil
}

func neverScam(context.Context, string, []domain.Message) (agent.Verdict, error) {
	return agent.Verdict{IsScam: false, Confidence: 5}, nil
}

func TestHandleMessageRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	h := newHarness(t, alwaysScam, nil, agent.FallbackUndecided)
	ctx := context.Background()

	for _, in := range []Inbound{
		{SessionID: "", Text: "hello"},
		{SessionID: "   ", Text: "hello"},
		{SessionID: "s1", Text: ""},
		{SessionID: "s1", Text: " \n\t "},
	} {
		_, err := h.engine.HandleMessage(ctx, in)
		require.ErrorIs(t, err, ErrInvalidInput)
	}
	assert.Zero(t, h.store.Len(), "invalid input must not create sessions")
	assert.Zero(t, h.classified.Load())
}

func TestUnconfirmedTurnGetsNeutralReply(t *testing.T) {
	t.Parallel()

	var seen [][]domain.Message
	var mu sync.Mutex
	h := newHarness(t, func(_ context.Context, _ string, history []domain.Message) (agent.Verdict, error) {
		mu.Lock()
		seen = append(seen, history)
		mu.Unlock()
		return agent.Verdict{}, nil
	}, nil, agent.FallbackUndecided)
	ctx := context.Background()

	out, err := h.engine.HandleMessage(ctx, Inbound{SessionID: "s1", Text: "hi, how are you?"})
	require.NoError(t, err)
	assert.Equal(t, agent.NeutralReply, out.Reply)
	assert.False(t, out.Confirmed)
	assert.Len(t, out.Session.Messages, 1, "neutral reply is not recorded")

	_, err = h.engine.HandleMessage(ctx, Inbound{SessionID: "s1", Text: "are you there?"})
	require.NoError(t, err)

	require.Len(t, seen, 2)
	assert.Empty(t, seen[0], "history excludes the current message")
	require.Len(t, seen[1], 1)
	assert.Equal(t, "hi, how are you?", seen[1][0].Text)
}

func TestConfirmationNeverReverts(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	h := newHarness(t, func(ctx context.Context, text string, history []domain.Message) (agent.Verdict, error) {
		if calls.Add(1) == 1 {
			return alwaysScam(ctx, text, history)
		}
		return neverScam(ctx, text, history)
	}, nil, agent.FallbackUndecided)
	ctx := context.Background()

	out, err := h.engine.HandleMessage(ctx, Inbound{SessionID: "s1", Text: "your account is blocked"})
	require.NoError(t, err)
	assert.True(t, out.Confirmed)
	assert.True(t, out.NewlyConfirmed)
	assert.Equal(t, "oh no, which account should I use?", out.Reply)
	assert.Equal(t, "Scam detected: bank_fraud. asks for OTP", out.Session.Notes)

	for i := 0; i < 3; i++ {
		out, err = h.engine.HandleMessage(ctx, Inbound{SessionID: "s1", Text: "just kidding"})
		require.NoError(t, err)
		assert.True(t, out.Confirmed)
		assert.False(t, out.NewlyConfirmed)
	}
	assert.Equal(t, int32(1), h.classified.Load(), "classifier is not consulted after confirmation")
}

func TestReportFiresOnceAfterTurnThreshold(t *testing.T) {
	t.Parallel()

	h := newHarness(t, alwaysScam, nil, agent.FallbackUndecided)
	ctx := context.Background()

	out, err := h.engine.HandleMessage(ctx, Inbound{SessionID: "s1", Text: "call 9876543210 now"})
	require.NoError(t, err)
	assert.Len(t, out.Session.Messages, 2)
	assert.False(t, out.Reported, "two messages is below the threshold")

	out, err = h.engine.HandleMessage(ctx, Inbound{SessionID: "s1", Text: "hurry up"})
	require.NoError(t, err)
	assert.Len(t, out.Session.Messages, 4)
	assert.True(t, out.Reported)
	assert.Equal(t, "r1", out.ReportID)
	assert.True(t, out.Session.Reported)

	out, err = h.engine.HandleMessage(ctx, Inbound{SessionID: "s1", Text: "send to scammer@ybl"})
	require.NoError(t, err)
	assert.False(t, out.Reported)

	require.Equal(t, 1, h.dispatcher.count())
	sum := h.dispatcher.dispatched[0]
	assert.Equal(t, "s1", sum.SessionID)
	assert.True(t, sum.ScamDetected)
	assert.Equal(t, 4, sum.TotalMessagesExchanged)
	assert.Equal(t, 2, sum.TurnsCompleted)
	assert.Equal(t, []string{"9876543210"}, sum.ExtractedIntelligence.PhoneNumbers)
}

func TestConcurrentDuplicatesReportOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t, alwaysScam, nil, agent.FallbackUndecided)
	ctx := context.Background()
	_, err := h.engine.HandleMessage(ctx, Inbound{SessionID: "dup", Text: "pay to scammer@ybl"})
	require.NoError(t, err)

	const n = 30
	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := h.engine.HandleMessage(ctx, Inbound{SessionID: "dup", Text: "pay to scammer@ybl"})
			assert.NoError(t, err)
			if out.Reported {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, 1, h.dispatcher.count())

	s, ok, err := h.store.Lookup("dup")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, s.Messages, 2*(n+1))
	assert.Equal(t, []string{"scammer@ybl"}, s.Evidence.UPIHandles)
}

func TestClassifierFailureFallbackPolicy(t *testing.T) {
	t.Parallel()

	failing := func(context.Context, string, []domain.Message) (agent.Verdict, error) {
		return agent.Verdict{}, errors.New("upstream 503")
	}

	undecided := newHarness(t, failing, nil, agent.FallbackUndecided)
	out, err := undecided.engine.HandleMessage(context.Background(), Inbound{SessionID: "s", Text: "hello"})
	require.NoError(t, err)
	assert.False(t, out.Confirmed)
	assert.Equal(t, agent.NeutralReply, out.Reply)

	suspicious := newHarness(t, failing, nil, agent.FallbackSuspicious)
	out, err = suspicious.engine.HandleMessage(context.Background(), Inbound{SessionID: "s", Text: "hello"})
	require.NoError(t, err)
	assert.True(t, out.Confirmed)
}

func TestClassifierTimeoutLeavesTurnUndecided(t *testing.T) {
	t.Parallel()

	h := &harness{store: session.NewStore(), dispatcher: &fakeDispatcher{}}
	slow := classifyFunc(func(ctx context.Context, _ string, _ []domain.Message) (agent.Verdict, error) {
		<-ctx.Done()
		return agent.Verdict{}, ctx.Err()
	})
	svc := agent.NewService(slow, respondFunc(func(context.Context, string, []domain.Message, domain.Evidence) (string, error) {
		return "ok", nil
	}), agent.Config{ClassifierTimeout: 20 * time.Millisecond, ResponderTimeout: time.Second}, nil)
	e := New(h.store, intel.NewDefault(), svc, report.NewGate(report.DefaultPolicy(), h.store, nil), h.dispatcher)

	out, err := e.HandleMessage(context.Background(), Inbound{SessionID: "slow", Text: "send OTP"})
	require.NoError(t, err)
	assert.False(t, out.Confirmed)
	assert.Equal(t, agent.NeutralReply, out.Reply)
}

func TestResponderFailureUsesFallbackReply(t *testing.T) {
	t.Parallel()

	h := newHarness(t, alwaysScam, func(context.Context, string, []domain.Message, domain.Evidence) (string, error) {
		return "", errors.New("model overloaded")
	}, agent.FallbackUndecided)

	out, err := h.engine.HandleMessage(context.Background(), Inbound{SessionID: "s1", Text: "send money"})
	require.NoError(t, err)
	assert.True(t, out.FallbackReply)
	assert.Equal(t, agent.FallbackReply(0), out.Reply)
	require.Len(t, out.Session.Messages, 2)
	assert.Equal(t, domain.RoleAgent, out.Session.Messages[1].Role)
}

func TestReplyEvidenceIsMerged(t *testing.T) {
	t.Parallel()

	h := newHarness(t, alwaysScam, func(context.Context, string, []domain.Message, domain.Evidence) (string, error) {
		return "is it www.secure-pay.xyz? I will write it down", nil
	}, agent.FallbackUndecided)

	out, err := h.engine.HandleMessage(context.Background(), Inbound{SessionID: "s1", Text: "open the link"})
	require.NoError(t, err)
	assert.Equal(t, []string{"www.secure-pay.xyz"}, out.Session.Evidence.PhishingURLs)
}

func TestHistorySeedsFreshSessionOnly(t *testing.T) {
	t.Parallel()

	h := newHarness(t, neverScam, nil, agent.FallbackUndecided)
	ctx := context.Background()
	history := []domain.Message{
		{Role: domain.RoleScammer, Text: "I am from the bank, KYC pending"},
		{Role: domain.RoleAgent, Text: "oh really?"},
		{Role: domain.RoleScammer, Text: "pay fee to helpdesk@paytm"},
	}

	out, err := h.engine.HandleMessage(ctx, Inbound{SessionID: "s1", Text: "quickly", History: history})
	require.NoError(t, err)
	require.Len(t, out.Session.Messages, 4)
	assert.Equal(t, "quickly", out.Session.Messages[3].Text)
	assert.Equal(t, []string{"helpdesk@paytm"}, out.Session.Evidence.UPIHandles)
	assert.Contains(t, out.Session.Keywords, "kyc")

	out, err = h.engine.HandleMessage(ctx, Inbound{SessionID: "s1", Text: "again", History: history})
	require.NoError(t, err)
	assert.Len(t, out.Session.Messages, 5, "history is ignored once the session has messages")
}

func TestEndSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t, alwaysScam, nil, agent.FallbackUndecided)
	ctx := context.Background()

	_, err := h.engine.EndSession(ctx, "missing")
	require.ErrorIs(t, err, ErrSessionNotFound)
	_, err = h.engine.EndSession(ctx, "")
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = h.engine.HandleMessage(ctx, Inbound{SessionID: "s1", Text: "hello"})
	require.NoError(t, err)
	res, err := h.engine.EndSession(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, res.Reported)
	assert.Equal(t, "insufficient_evidence", res.Reason)

	for _, text := range []string{"call 9876543210", "fast"} {
		_, err = h.engine.HandleMessage(ctx, Inbound{SessionID: "s2", Text: text})
		require.NoError(t, err)
	}
	res, err = h.engine.EndSession(ctx, "s2")
	require.NoError(t, err)
	assert.False(t, res.Reported, "the turn already won the gate")
	assert.Equal(t, "already_reported", res.Reason)
	assert.Empty(t, h.dispatcher.sent)
}

func TestEndSessionSendsWhenGateOpen(t *testing.T) {
	t.Parallel()

	h := newHarness(t, alwaysScam, nil, agent.FallbackUndecided)
	ctx := context.Background()

	// Build an eligible session directly so no turn has flipped the gate.
	for i := 0; i < 4; i++ {
		_, err := h.store.AppendMessage("s1", domain.RoleScammer, "turn")
		require.NoError(t, err)
	}
	_, err := h.store.UpdateEvidence("s1", domain.Evidence{PhoneNumbers: []string{"9876543210"}})
	require.NoError(t, err)
	_, _, err = h.store.MarkConfirmed("s1", "")
	require.NoError(t, err)

	h.dispatcher.sendErr = errors.New("callback down")
	res, err := h.engine.EndSession(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, res.Reported)
	require.Error(t, res.Err)
	require.NotNil(t, res.Record)
	assert.Equal(t, domain.ReportFailed, res.Record.Status)

	res, err = h.engine.EndSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "already_reported", res.Reason, "a failed delivery does not reopen the gate")
	assert.Len(t, h.dispatcher.sent, 1)
}

func TestPublisherReceivesLifecycleEvents(t *testing.T) {
	t.Parallel()

	pub := &recordingPublisher{}
	h := newHarness(t, alwaysScam, nil, agent.FallbackUndecided, WithPublisher(pub), WithMaxConcurrentCalls(1))
	ctx := context.Background()

	_, err := h.engine.HandleMessage(ctx, Inbound{SessionID: "s1", Text: "pay scammer@ybl"})
	require.NoError(t, err)
	_, err = h.engine.HandleMessage(ctx, Inbound{SessionID: "s1", Text: "now"})
	require.NoError(t, err)

	types := pub.types()
	assert.Contains(t, types, domain.EventConfirmed)
	assert.Contains(t, types, domain.EventEvidence)
	assert.Contains(t, types, domain.EventReported)
	assert.Equal(t, domain.EventMessage, types[0])
}
