// Package engine runs one inbound message through extraction, detection,
// engagement and reporting.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ashureev/honeypot/internal/agent"
	"github.com/ashureev/honeypot/internal/domain"
	"github.com/ashureev/honeypot/internal/intel"
	"github.com/ashureev/honeypot/internal/report"
	"github.com/ashureev/honeypot/internal/session"
)

var (
	// ErrInvalidInput is returned before any state is touched when the
	// session id or the message text is unusable.
	ErrInvalidInput = errors.New("invalid input")
	// ErrSessionNotFound is returned by EndSession for unknown ids.
	ErrSessionNotFound = errors.New("session not found")
)

// DefaultMaxConcurrentCalls bounds in-flight classifier and responder calls.
const DefaultMaxConcurrentCalls = 16

const conversationChannel = "api_message"

// Dispatcher hands summaries to the reporting collaborator.
type Dispatcher interface {
	Dispatch(summary report.Summary) string
	Send(ctx context.Context, summary report.Summary) (domain.ReportRecord, error)
}

// Publisher receives engine events. Publish must not block.
type Publisher interface {
	Publish(ev domain.Event)
}

// Inbound is one message received from a counterpart.
type Inbound struct {
	SessionID string
	Text      string
	Sender    domain.Role
	// History seeds a fresh session. It is ignored once the session has
	// any messages.
	History   []domain.Message
	RequestID string
}

// Outcome is the result of handling one inbound message.
type Outcome struct {
	Reply string
	// Confirmed is the detection state after this turn; NewlyConfirmed is
	// true only on the turn that made the transition.
	Confirmed      bool
	NewlyConfirmed bool
	// FallbackReply is true when the responder failed.
	FallbackReply bool
	// Reported is true only for the call that won the reporting gate.
	Reported bool
	ReportID string
	Session  domain.Session
}

// EndResult describes a manual end-of-session request.
type EndResult struct {
	Reported bool
	// Reason is "reported", "already_reported" or "insufficient_evidence".
	Reason string
	Record *domain.ReportRecord
	Err    error
}

// Engine wires the store, extractor, model service and reporting gate.
type Engine struct {
	store      *session.Store
	extractor  *intel.Extractor
	agent      *agent.Service
	gate       *report.Gate
	dispatcher Dispatcher

	sem       *semaphore.Weighted
	convLog   agent.ConversationLogger
	publisher Publisher
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithConversationLogger records every turn to l.
func WithConversationLogger(l agent.ConversationLogger) Option {
	return func(e *Engine) {
		if l != nil {
			e.convLog = l
		}
	}
}

// WithPublisher streams events to p.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithMaxConcurrentCalls bounds concurrent model calls across all sessions.
func WithMaxConcurrentCalls(n int64) Option {
	return func(e *Engine) {
		if n > 0 {
			e.sem = semaphore.NewWeighted(n)
		}
	}
}

// WithClock overrides the time source used for report summaries.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New creates an engine.
func New(store *session.Store, extractor *intel.Extractor, svc *agent.Service, gate *report.Gate, dispatcher Dispatcher, opts ...Option) *Engine {
	e := &Engine{
		store:      store,
		extractor:  extractor,
		agent:      svc,
		gate:       gate,
		dispatcher: dispatcher,
		sem:        semaphore.NewWeighted(DefaultMaxConcurrentCalls),
		convLog:    agent.NoopConversationLogger(),
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Validate checks in without touching any state.
func (in Inbound) Validate() error {
	if err := session.ValidateID(in.SessionID); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if strings.TrimSpace(in.Text) == "" {
		return fmt.Errorf("%w: empty message text", ErrInvalidInput)
	}
	return nil
}

// HandleMessage processes one inbound turn. The only error it returns is
// ErrInvalidInput; collaborator failures are resolved to fallbacks.
func (e *Engine) HandleMessage(ctx context.Context, in Inbound) (Outcome, error) {
	if err := in.Validate(); err != nil {
		return Outcome{}, err
	}
	if in.Sender == "" {
		in.Sender = domain.RoleScammer
	}
	id := in.SessionID
	log := e.logger.With("session_id", id, "request_id", in.RequestID)

	if len(in.History) > 0 {
		if err := e.seed(id, in.History, log); err != nil {
			return Outcome{}, err
		}
	}

	s, err := e.store.AppendMessage(id, in.Sender, in.Text)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	history := s.Messages[:len(s.Messages)-1]
	e.logTurn(id, in.Sender, in.Text, "inbound", in.RequestID, nil)
	e.publish(domain.Event{Type: domain.EventMessage, SessionID: id, Role: in.Sender, Text: in.Text})

	if s, err = e.absorb(id, in.Text, true); err != nil {
		return Outcome{}, err
	}

	out := Outcome{}
	if !s.Confirmed() {
		s, out.NewlyConfirmed = e.classify(ctx, s, in, history, log)
	}

	if s.Confirmed() {
		reply, fallback := e.respond(ctx, in.Text, history, s.Evidence)
		out.Reply, out.FallbackReply = reply, fallback
		if s, err = e.store.AppendMessage(id, domain.RoleAgent, reply); err != nil {
			return Outcome{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		e.logTurn(id, domain.RoleAgent, reply, "outbound", in.RequestID, map[string]any{"fallback": fallback})
		e.publish(domain.Event{Type: domain.EventMessage, SessionID: id, Role: domain.RoleAgent, Text: reply})
		if s, err = e.absorb(id, reply, false); err != nil {
			return Outcome{}, err
		}
	} else {
		out.Reply = agent.NeutralReply
	}

	if e.gate.TryAcquire(s) {
		out.Reported = true
		out.ReportID = e.dispatcher.Dispatch(report.BuildSummary(s, e.now()))
		log.Info("Report gate passed, dispatching", "report_id", out.ReportID, "turns", len(s.Messages))
		e.logEvent(id, "report_dispatched", in.RequestID, map[string]any{"report_id": out.ReportID})
		e.publish(domain.Event{Type: domain.EventReported, SessionID: id, ReportID: out.ReportID})
		if latest, ok, lerr := e.store.Lookup(id); lerr == nil && ok {
			s = latest
		}
	}

	out.Confirmed = s.Confirmed()
	out.Session = s
	return out, nil
}

// EndSession reports a session on request if the gate is still open.
func (e *Engine) EndSession(ctx context.Context, id string) (EndResult, error) {
	if err := session.ValidateID(id); err != nil {
		return EndResult{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	s, ok, err := e.store.Lookup(id)
	if err != nil {
		return EndResult{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if !ok {
		return EndResult{}, ErrSessionNotFound
	}

	if s.Reported {
		return EndResult{Reason: "already_reported"}, nil
	}
	if !e.gate.TryAcquire(s) {
		if latest, found, _ := e.store.Lookup(id); found && latest.Reported {
			return EndResult{Reason: "already_reported"}, nil
		}
		return EndResult{Reason: "insufficient_evidence"}, nil
	}

	rec, sendErr := e.dispatcher.Send(ctx, report.BuildSummary(s, e.now()))
	e.logEvent(id, "report_sent", "", map[string]any{"report_id": rec.ID, "status": string(rec.Status)})
	e.publish(domain.Event{Type: domain.EventEnded, SessionID: id, ReportID: rec.ID, Status: rec.Status})
	return EndResult{Reported: true, Reason: "reported", Record: &rec, Err: sendErr}, nil
}

func (e *Engine) seed(id string, history []domain.Message, log *slog.Logger) error {
	s, seeded, err := e.store.SeedHistory(id, history)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if !seeded {
		return nil
	}
	log.Debug("Seeded session from conversation history", "messages", len(s.Messages))
	for _, m := range s.Messages {
		if _, err := e.absorb(id, m.Text, m.Role == domain.RoleScammer); err != nil {
			return err
		}
	}
	return nil
}

// absorb extracts evidence from text and merges it into the session.
// Keywords are only tracked for counterpart text.
func (e *Engine) absorb(id, text string, counterpart bool) (domain.Session, error) {
	ev := e.extractor.Extract(text)
	s, err := e.store.UpdateEvidence(id, ev)
	if err != nil {
		return s, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if counterpart {
		if kw := e.extractor.Keywords(text); len(kw) > 0 {
			if s, err = e.store.AddKeywords(id, kw); err != nil {
				return s, fmt.Errorf("%w: %w", ErrInvalidInput, err)
			}
		}
	}
	if !ev.IsEmpty() {
		merged := s.Evidence
		e.publish(domain.Event{Type: domain.EventEvidence, SessionID: id, Evidence: &merged})
	}
	return s, nil
}

func (e *Engine) classify(ctx context.Context, s domain.Session, in Inbound, history []domain.Message, log *slog.Logger) (domain.Session, bool) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		log.Warn("Classifier slot unavailable, turn stays undecided", "error", err)
		return s, false
	}
	decision := e.agent.Classify(ctx, in.Text, history)
	e.sem.Release(1)

	if !decision.Decided || !decision.Verdict.IsScam {
		return s, false
	}

	notes := decision.Verdict.Notes()
	confirmed, changed, err := e.store.MarkConfirmed(in.SessionID, notes)
	if err != nil {
		log.Warn("Failed to mark session confirmed", "error", err)
		return s, false
	}
	if changed {
		log.Info("Scam confirmed",
			"category", decision.Verdict.Category,
			"confidence", decision.Verdict.Confidence,
			"fallback", decision.Fallback,
		)
		e.logEvent(in.SessionID, "scam_confirmed", in.RequestID, map[string]any{
			"category":   decision.Verdict.Category,
			"confidence": decision.Verdict.Confidence,
			"fallback":   decision.Fallback,
		})
		e.publish(domain.Event{Type: domain.EventConfirmed, SessionID: in.SessionID, Notes: notes})
	}
	return confirmed, changed
}

func (e *Engine) respond(ctx context.Context, text string, history []domain.Message, ev domain.Evidence) (string, bool) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		e.logger.Warn("Responder slot unavailable, using fallback reply", "error", err)
		return agent.FallbackReply(len(history)), true
	}
	defer e.sem.Release(1)
	return e.agent.Respond(ctx, text, history, ev)
}

func (e *Engine) publish(ev domain.Event) {
	if e.publisher == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = e.now()
	}
	e.publisher.Publish(ev)
}

func (e *Engine) logTurn(id string, role domain.Role, text, direction, requestID string, meta map[string]any) {
	if meta == nil {
		meta = map[string]any{}
	}
	meta["request_id"] = requestID
	e.convLog.Log(agent.ConversationLogEvent{
		SessionID:  id,
		Channel:    conversationChannel,
		Direction:  direction,
		EventType:  string(role) + "_message",
		Sender:     string(role),
		ContentRaw: text,
		Meta:       meta,
	})
}

func (e *Engine) logEvent(id, eventType, requestID string, meta map[string]any) {
	if requestID != "" {
		meta["request_id"] = requestID
	}
	e.convLog.Log(agent.ConversationLogEvent{
		SessionID: id,
		Channel:   conversationChannel,
		Direction: "internal",
		EventType: eventType,
		Meta:      meta,
	})
}
