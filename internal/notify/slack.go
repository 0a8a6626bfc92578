package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Slack posts alerts to a Slack incoming webhook. The title renders bold
// above the detail text using Slack's mrkdwn formatting.
type Slack struct {
	WebhookURL string
	Client     *http.Client
}

// NewSlack returns nil when no webhook URL is configured, which drops the
// channel at wiring time.
func NewSlack(webhookURL string) *Slack {
	if webhookURL == "" {
		return nil
	}
	return &Slack{
		WebhookURL: webhookURL,
		Client:     &http.Client{Timeout: 10 * time.Second},
	}
}

type slackPayload struct {
	Text string `json:"text"`
}

func (s *Slack) Send(ctx context.Context, title, text string) error {
	if s == nil || s.WebhookURL == "" {
		return errors.New("slack webhook not configured")
	}
	body, err := json.Marshal(slackPayload{Text: fmt.Sprintf("*%s*\n%s", title, text)})
	if err != nil {
		return fmt.Errorf("slack payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("slack webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("slack webhook returned %d", resp.StatusCode)
	}
	return nil
}
