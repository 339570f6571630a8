package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Reporter delivers a summary to the outside world. Implementations make a
// single attempt.
type Reporter interface {
	Report(ctx context.Context, sessionID string, summary Summary) error
}

// WebhookReporter POSTs summaries as JSON to a callback URL.
type WebhookReporter struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// NewWebhookReporter creates a reporter for url.
func NewWebhookReporter(url string, headers map[string]string, timeout time.Duration) (*WebhookReporter, error) {
	if url == "" {
		return nil, errors.New("report callback url is empty")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	hdr := make(map[string]string, len(headers))
	for k, v := range headers {
		hdr[k] = v
	}
	return &WebhookReporter{
		url:     url,
		headers: hdr,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// Report sends summary once. Any non-2xx status is a failure.
func (w *WebhookReporter) Report(ctx context.Context, sessionID string, summary Summary) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post report for %s: %w", sessionID, err)
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	_ = resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("post report for %s: status %d body=%q", sessionID, resp.StatusCode, truncateBody(body))
	}
	return nil
}

func truncateBody(b []byte) string {
	const limit = 200
	if len(b) <= limit {
		return string(b)
	}
	return string(b[:limit]) + "..."
}

// LogReporter writes summaries to the log. It is used when no callback URL
// is configured.
type LogReporter struct {
	logger *slog.Logger
}

// NewLogReporter creates a log-only reporter.
func NewLogReporter(logger *slog.Logger) *LogReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogReporter{logger: logger}
}

// Report logs the summary and always succeeds.
func (l *LogReporter) Report(_ context.Context, sessionID string, summary Summary) error {
	l.logger.Info("Report (no callback configured)",
		"session_id", sessionID,
		"scam_detected", summary.ScamDetected,
		"messages", summary.TotalMessagesExchanged,
		"bank_accounts", len(summary.ExtractedIntelligence.BankAccounts),
		"upi_ids", len(summary.ExtractedIntelligence.UPIHandles),
		"phone_numbers", len(summary.ExtractedIntelligence.PhoneNumbers),
		"links", len(summary.ExtractedIntelligence.PhishingURLs),
	)
	return nil
}
