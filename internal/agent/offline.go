package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashureev/honeypot/internal/domain"
	"github.com/ashureev/honeypot/internal/intel"
)

// offlineKeywordThreshold is the number of distinct suspicious keywords in
// one message that confirms a scam without any extracted identifier.
const offlineKeywordThreshold = 3

// OfflineBackend is a rule-based collaborator used when no model provider
// is configured. It classifies from keyword hits and extracted identifiers
// and answers with scripted persona lines that ask for missing details.
type OfflineBackend struct {
	extractor *intel.Extractor
}

// NewOfflineBackend creates an offline backend using extractor.
func NewOfflineBackend(extractor *intel.Extractor) *OfflineBackend {
	if extractor == nil {
		extractor = intel.NewDefault()
	}
	return &OfflineBackend{extractor: extractor}
}

// Classify flags a message as a scam when it carries a payment or contact
// identifier together with at least one suspicious keyword, or enough
// suspicious keywords on its own.
func (b *OfflineBackend) Classify(_ context.Context, text string, _ []domain.Message) (Verdict, error) {
	keywords := b.extractor.Keywords(text)
	ev := b.extractor.Extract(text)

	switch {
	case ev.HasActionable() && len(keywords) > 0:
		return Verdict{
			IsScam:     true,
			Confidence: 80,
			Category:   "payment_request",
			Rationale:  fmt.Sprintf("shares payment or contact details alongside %s", strings.Join(keywords, ", ")),
		}, nil
	case len(keywords) >= offlineKeywordThreshold:
		return Verdict{
			IsScam:     true,
			Confidence: 60 + 5*min(len(keywords)-offlineKeywordThreshold, 6),
			Category:   "pressure_tactics",
			Rationale:  "uses " + strings.Join(keywords, ", "),
		}, nil
	default:
		return Verdict{IsScam: false, Confidence: 10 * len(keywords)}, nil
	}
}

var askFor = map[string]string{
	"bank account number": "Which account should I transfer to? Please give number slowly, I am writing it down.",
	"UPI ID":              "I have PhonePe only. What is your UPI ID, beta?",
	"phone number":        "If this chat gets cut, what number should I call you back on?",
	"website/link":        "Where do I have to go to fill the form? Send me the link again please.",
}

// Respond asks for the first missing identifier, or stalls politely when
// everything has been collected.
func (b *OfflineBackend) Respond(_ context.Context, _ string, history []domain.Message, evidence domain.Evidence) (string, error) {
	missing := evidence.Missing()
	if len(missing) == 0 {
		return FallbackReply(len(history)), nil
	}
	line := askFor[missing[len(history)%len(missing)]]
	return "Arre, okay okay, I don't want any problem with my account. " + line, nil
}

// Close is a no-op.
func (b *OfflineBackend) Close() {}
