package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dwsmith1983/feedrun/pkg/types"
)

const (
	webhookTimeout = 10 * time.Second

	// maxErrorBody bounds how much of a rejected response ends up in the error.
	maxErrorBody = 512
)

// webhookPayload carries a rendered text line for chat webhooks next to the
// structured alert.
type webhookPayload struct {
	Text  string      `json:"text"`
	Alert types.Alert `json:"alert"`
}

// WebhookSink posts alerts as JSON to a URL.
type WebhookSink struct {
	url    string
	client *http.Client
}

// NewWebhookSink creates a webhook sink for url.
func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: webhookTimeout},
	}
}

// Name returns the sink identifier.
func (s *WebhookSink) Name() string { return "webhook" }

// Send posts the alert. Any non-2xx response is an error.
func (s *WebhookSink) Send(ctx context.Context, alert types.Alert) error {
	data, err := json.Marshal(webhookPayload{Text: renderText(alert), Alert: alert})
	if err != nil {
		return fmt.Errorf("marshaling alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "feedrun-alerts")
	if alert.Category != "" {
		req.Header.Set("X-Feedrun-Alert", alert.Category)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// renderText formats an alert as "[ERROR] run_failed run-x: message".
func renderText(alert types.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", strings.ToUpper(string(alert.Level)))
	if alert.Category != "" {
		b.WriteString(" " + alert.Category)
	}
	if alert.RunID != "" {
		b.WriteString(" " + alert.RunID)
	}
	b.WriteString(": " + alert.Message)
	return b.String()
}
