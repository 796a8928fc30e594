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

// SlackNotifier posts alert events to a Slack incoming webhook.
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
}

// NewSlack creates a Slack channel sink, or nil if no webhook is configured.
func NewSlack(webhookURL string) *SlackNotifier {
	if webhookURL == "" {
		return nil
	}
	return &SlackNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *SlackNotifier) Name() string { return "slack" }

type slackPayload struct {
	Text string `json:"text"`
}

func (s *SlackNotifier) Notify(ctx context.Context, ev health.Event) error {
	var text string
	if ev.Recovery() {
		text = fmt.Sprintf(":white_check_mark: *%s* recovered (%s → %s)", ev.TargetID, ev.From, ev.To)
	} else {
		text = fmt.Sprintf(":rotating_light: *%s* is %s after %d consecutive failures", ev.TargetID, ev.To, ev.ConsecutiveFailures)
	}

	body, err := json.Marshal(slackPayload{Text: text})
	if err != nil {
		return fmt.Errorf("marshaling slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting to slack: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}
	return nil
}
