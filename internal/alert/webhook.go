package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kindredcircl/healthd/internal/health"
)

// WebhookNotifier posts alert events as JSON to a generic webhook endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhook creates a generic webhook sink, or nil if no URL is configured.
func NewWebhook(url string) *WebhookNotifier {
	if url == "" {
		return nil
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *WebhookNotifier) Name() string { return "webhook" }

type webhookPayload struct {
	Target              string `json:"target"`
	FromStatus          string `json:"from_status"`
	ToStatus            string `json:"to_status"`
	ConsecutiveFailures uint   `json:"consecutive_failures"`
	Timestamp           string `json:"timestamp"`
	Source              string `json:"source"`
}

func (w *WebhookNotifier) Notify(ctx context.Context, ev health.Event) error {
	payload := webhookPayload{
		Target:              ev.TargetID,
		FromStatus:          string(ev.From),
		ToStatus:            string(ev.To),
		ConsecutiveFailures: ev.ConsecutiveFailures,
		Timestamp:           ev.Timestamp.UTC().Format(time.RFC3339),
		Source:              "healthd",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
