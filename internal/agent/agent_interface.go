package agent

import (
	"context"

	"github.com/ashureev/honeypot/internal/domain"
)

// Classifier decides whether a message, given the conversation so far,
// is part of a scam attempt.
type Classifier interface {
	Classify(ctx context.Context, text string, history []domain.Message) (Verdict, error)
}

// Responder produces the persona's next reply.
type Responder interface {
	Respond(ctx context.Context, text string, history []domain.Message, evidence domain.Evidence) (string, error)
}

// Backend is a model collaborator serving both roles.
type Backend interface {
	Classifier
	Responder
	Close()
}

var (
	_ Backend = (*GrpcClient)(nil)
	_ Backend = (*OpenRouterClient)(nil)
	_ Backend = (*OfflineBackend)(nil)
)
