package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"resilience-notifier/internal/models"
)

// SendWebhook posts a queue entry as JSON to the recipient's endpoint. Any
// 2xx response counts as delivered.
func SendWebhook(ctx context.Context, e models.QueueEntry) error {
	if e.RecipientAddress == "" {
		return fmt.Errorf("webhook URL not set for recipient %s", e.RecipientID)
	}

	payload, err := json.Marshal(map[string]any{
		"notification_id":   e.ID.String(),
		"notification_type": e.Type,
		"priority":          string(e.Priority),
		"subject":           e.Subject,
		"body":              e.Body,
		"template_id":       e.TemplateID,
		"template_data":     e.TemplateData,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.RecipientAddress, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post webhook to %s: %w", e.RecipientAddress, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
