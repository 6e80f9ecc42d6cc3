package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"resilience-notifier/internal/config"
	"resilience-notifier/internal/models"
)

// SendSlack posts a queue entry to a Slack incoming webhook. A per-recipient
// webhook URL in the entry takes precedence over the configured default.
func SendSlack(ctx context.Context, e models.QueueEntry, cfg config.Config) error {
	webhookURL := e.RecipientAddress
	if webhookURL == "" {
		webhookURL = cfg.Slack.WebhookURL
	}
	if webhookURL == "" {
		return fmt.Errorf("no Slack webhook URL for recipient %s", e.RecipientID)
	}

	payload, err := json.Marshal(map[string]string{
		"text": fmt.Sprintf("*%s*\n%s", e.Subject, e.Body),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal Slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create Slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post to Slack webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}
