package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/honeypot/internal/domain"
	"github.com/ashureev/honeypot/internal/intel"
)

// ErrUnknownProvider is returned by NewBackend for unsupported provider names.
var ErrUnknownProvider = errors.New("unknown agent provider")

// NewBackend builds the collaborator selected by cfg.Provider.
func NewBackend(cfg Config, extractor *intel.Extractor, logger *slog.Logger) (Backend, error) {
	switch cfg.Provider {
	case ProviderOpenRouter:
		c, err := NewOpenRouterClient(cfg, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	case ProviderGrpc:
		c, err := NewGrpcClient(cfg.GrpcAddress, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	case ProviderNone, "":
		return NewOfflineBackend(extractor), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}

// Service applies timeouts and failure policy around a Backend. Neither of
// its methods returns an error: failures are resolved to a fallback.
type Service struct {
	classifier        Classifier
	responder         Responder
	fallback          FallbackPolicy
	classifierTimeout time.Duration
	responderTimeout  time.Duration
	logger            *slog.Logger
}

// Decision is the outcome of one classification attempt.
type Decision struct {
	Verdict Verdict
	// Decided is false when the classifier failed and the policy left the
	// turn undecided.
	Decided  bool
	Fallback bool
	Err      error
}

// NewService creates a service around a classifier and responder.
func NewService(classifier Classifier, responder Responder, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultConfig()
	if cfg.ClassifierTimeout <= 0 {
		cfg.ClassifierTimeout = defaults.ClassifierTimeout
	}
	if cfg.ResponderTimeout <= 0 {
		cfg.ResponderTimeout = defaults.ResponderTimeout
	}
	if cfg.Fallback == "" {
		cfg.Fallback = defaults.Fallback
	}
	return &Service{
		classifier:        classifier,
		responder:         responder,
		fallback:          cfg.Fallback,
		classifierTimeout: cfg.ClassifierTimeout,
		responderTimeout:  cfg.ResponderTimeout,
		logger:            logger,
	}
}

// Classify makes one bounded classifier call. It is never retried.
func (s *Service) Classify(ctx context.Context, text string, history []domain.Message) Decision {
	ctx, cancel := context.WithTimeout(ctx, s.classifierTimeout)
	defer cancel()

	v, err := s.classifier.Classify(ctx, text, history)
	if err == nil {
		return Decision{Verdict: v, Decided: true}
	}

	fv, decided := s.fallback.OnFailure(err)
	s.logger.Warn("Classifier failed, applying fallback policy",
		"error", err,
		"policy", s.fallback,
		"decided", decided,
	)
	return Decision{Verdict: fv, Decided: decided, Fallback: true, Err: err}
}

// Respond makes one bounded responder call and substitutes an in-persona
// fallback line on failure. The second result reports whether the fallback
// was used.
func (s *Service) Respond(ctx context.Context, text string, history []domain.Message, evidence domain.Evidence) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, s.responderTimeout)
	defer cancel()

	reply, err := s.responder.Respond(ctx, text, history, evidence)
	if err != nil || reply == "" {
		s.logger.Warn("Responder failed, using fallback reply", "error", err)
		return FallbackReply(len(history)), true
	}
	return reply, false
}
