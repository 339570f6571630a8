// Package agent wraps the language-model collaborators: the scam classifier
// and the victim-persona responder.
package agent

import (
	"fmt"
	"strings"
	"time"
)

// Verdict is the classifier's decision for one message.
type Verdict struct {
	IsScam     bool   `json:"isScam"`
	Confidence int    `json:"confidence"`
	Category   string `json:"scamType,omitempty"`
	Rationale  string `json:"reasoning,omitempty"`
}

// Notes renders the verdict as the free-text agent notes stored on a
// confirmed session.
func (v Verdict) Notes() string {
	category := strings.TrimSpace(v.Category)
	if category == "" {
		category = "unknown"
	}
	notes := "Scam detected: " + category + "."
	if r := strings.TrimSpace(v.Rationale); r != "" {
		notes += " " + r
	}
	return notes
}

func clampConfidence(c int) int {
	switch {
	case c < 0:
		return 0
	case c > 100:
		return 100
	default:
		return c
	}
}

// FallbackPolicy decides what a failed classification means.
type FallbackPolicy string

const (
	// FallbackUndecided leaves the session unconfirmed for the turn.
	FallbackUndecided FallbackPolicy = "undecided"
	// FallbackSuspicious treats a failed classification as a scam verdict.
	FallbackSuspicious FallbackPolicy = "suspicious"
)

// ParseFallbackPolicy parses a policy name. Empty selects FallbackUndecided.
func ParseFallbackPolicy(s string) (FallbackPolicy, error) {
	switch FallbackPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", FallbackUndecided:
		return FallbackUndecided, nil
	case FallbackSuspicious:
		return FallbackSuspicious, nil
	default:
		return "", fmt.Errorf("unknown classifier fallback policy %q", s)
	}
}

// OnFailure returns the verdict to apply after a classifier error and
// whether the caller should treat it as a decision.
func (p FallbackPolicy) OnFailure(err error) (Verdict, bool) {
	if p != FallbackSuspicious {
		return Verdict{}, false
	}
	return Verdict{
		IsScam:     true,
		Confidence: 50,
		Category:   "unknown",
		Rationale:  fmt.Sprintf("classification failed, treating as suspicious: %v", err),
	}, true
}

// NeutralReply is sent while a session is still unconfirmed. It must not
// hint at the detection state.
const NeutralReply = "Hello, how can I help you today?"

var fallbackReplies = []string{
	"Beta, network problem ho gaya. Please repeat karo?",
	"Haan haan, I am listening. Kya karna hai mujhe?",
	"Ek minute, let me get my reading glasses...",
	"My grandson usually helps. Can you explain simply?",
	"Okay okay, I want to help. Tell me step by step.",
	"Arre, phone hang ho gaya. What were you saying about my account?",
}

// FallbackReply returns the in-persona reply used when the responder fails.
// The choice rotates with the turn number so repeated failures do not
// repeat the same line.
func FallbackReply(turn int) string {
	if turn < 0 {
		turn = -turn
	}
	return fallbackReplies[turn%len(fallbackReplies)]
}

// Config holds model collaborator settings.
type Config struct {
	Provider          string
	OpenRouterAPIKey  string
	OpenRouterModel   string
	OpenRouterBaseURL string
	GrpcAddress       string
	ClassifierTimeout time.Duration
	ResponderTimeout  time.Duration
	Fallback          FallbackPolicy
}

// Provider names accepted in Config.Provider.
const (
	ProviderOpenRouter = "openrouter"
	ProviderGrpc       = "grpc"
	ProviderNone       = "none"
)

// DefaultConfig returns default collaborator configuration.
func DefaultConfig() Config {
	return Config{
		Provider:          ProviderNone,
		OpenRouterModel:   "anthropic/claude-3.5-sonnet",
		OpenRouterBaseURL: "https://openrouter.ai/api/v1/chat/completions",
		ClassifierTimeout: 15 * time.Second,
		ResponderTimeout:  20 * time.Second,
		Fallback:          FallbackUndecided,
	}
}
