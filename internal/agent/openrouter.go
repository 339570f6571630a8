package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/honeypot/internal/domain"
)

const maxOpenRouterResponseBytes = 1 << 20

var (
	errNoChoices     = errors.New("chat completion returned no choices")
	errEmptyContent  = errors.New("chat completion returned empty content")
	errMissingAPIKey = errors.New("openrouter api key is required")
)

// OpenRouterClient talks to an OpenAI-compatible chat-completions endpoint.
type OpenRouterClient struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	logger  *slog.Logger
}

// NewOpenRouterClient creates a chat-completions client. The HTTP timeout is
// a backstop; callers bound each call with their own context.
func NewOpenRouterClient(cfg Config, logger *slog.Logger) (*OpenRouterClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(cfg.OpenRouterAPIKey) == "" {
		return nil, errMissingAPIKey
	}
	defaults := DefaultConfig()
	if cfg.OpenRouterBaseURL == "" {
		cfg.OpenRouterBaseURL = defaults.OpenRouterBaseURL
	}
	if cfg.OpenRouterModel == "" {
		cfg.OpenRouterModel = defaults.OpenRouterModel
	}

	return &OpenRouterClient{
		baseURL: cfg.OpenRouterBaseURL,
		apiKey:  cfg.OpenRouterAPIKey,
		model:   cfg.OpenRouterModel,
		client:  &http.Client{Timeout: 60 * time.Second},
		logger:  logger,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type chatErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func buildMessages(system, text string, history []domain.Message, window int) []chatMessage {
	recent := lastN(history, window)
	msgs := make([]chatMessage, 0, len(recent)+2)
	msgs = append(msgs, chatMessage{Role: "system", Content: system})
	for _, m := range recent {
		msgs = append(msgs, chatMessage{Role: chatRole(m.Role), Content: m.Text})
	}
	return append(msgs, chatMessage{Role: "user", Content: text})
}

func (c *OpenRouterClient) complete(ctx context.Context, req chatRequest) (string, error) {
	req.Model = c.model
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("call chat completions: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxOpenRouterResponseBytes+1))
	if err != nil {
		return "", fmt.Errorf("read chat response: %w", err)
	}
	if len(respBody) > maxOpenRouterResponseBytes {
		return "", fmt.Errorf("chat response exceeded limit (%d bytes)", maxOpenRouterResponseBytes)
	}

	if resp.StatusCode >= 400 {
		var errBody chatErrorResponse
		if err := json.Unmarshal(respBody, &errBody); err != nil || errBody.Error.Message == "" {
			return "", fmt.Errorf("chat completions status %d", resp.StatusCode)
		}
		return "", fmt.Errorf("chat completions status %d: %s", resp.StatusCode, errBody.Error.Message)
	}

	var out chatResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", errNoChoices
	}
	content := strings.TrimSpace(out.Choices[0].Message.Content)
	if content == "" {
		return "", errEmptyContent
	}
	return content, nil
}

type classification struct {
	IsScam     bool    `json:"isScam"`
	Confidence float64 `json:"confidence"`
	ScamType   *string `json:"scamType"`
	Reasoning  *string `json:"reasoning"`
}

// Classify asks the model for a JSON verdict.
func (c *OpenRouterClient) Classify(ctx context.Context, text string, history []domain.Message) (Verdict, error) {
	content, err := c.complete(ctx, chatRequest{
		Messages:       buildMessages(classifierPrompt, text, history, classifierHistoryWindow),
		Temperature:    0.1,
		MaxTokens:      300,
		ResponseFormat: &responseFormat{Type: "json_object"},
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("classify: %w", err)
	}
	return parseVerdict(content)
}

// parseVerdict decodes a model verdict, tolerating code fences around the
// JSON object.
func parseVerdict(content string) (Verdict, error) {
	content = strings.TrimSpace(content)
	if start, end := strings.Index(content, "{"), strings.LastIndex(content, "}"); start >= 0 && end > start {
		content = content[start : end+1]
	}

	var raw classification
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return Verdict{}, fmt.Errorf("decode verdict: %w", err)
	}

	v := Verdict{IsScam: raw.IsScam, Confidence: clampConfidence(int(raw.Confidence))}
	if raw.Confidence == 0 {
		v.Confidence = 10
		if raw.IsScam {
			v.Confidence = 85
		}
	}
	if raw.ScamType != nil {
		v.Category = *raw.ScamType
	}
	if raw.Reasoning != nil {
		v.Rationale = *raw.Reasoning
	}
	return v, nil
}

// Respond generates the persona's reply.
func (c *OpenRouterClient) Respond(ctx context.Context, text string, history []domain.Message, evidence domain.Evidence) (string, error) {
	content, err := c.complete(ctx, chatRequest{
		Messages:    buildMessages(PersonaPrompt(evidence), text, history, responderHistoryWindow),
		Temperature: 0.7,
		MaxTokens:   500,
	})
	if err != nil {
		return "", fmt.Errorf("respond: %w", err)
	}
	return content, nil
}

// Close releases idle connections.
func (c *OpenRouterClient) Close() {
	c.client.CloseIdleConnections()
}
