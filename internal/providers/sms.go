package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"resilience-notifier/internal/config"
	"resilience-notifier/internal/models"
)

// SendSMS delivers a queue entry as an SMS through the Twilio REST API. The
// recipient address is the destination phone number in E.164 form.
func SendSMS(ctx context.Context, e models.QueueEntry, cfg config.Config) error {
	if e.RecipientAddress == "" {
		return fmt.Errorf("phone number not set for recipient %s", e.RecipientID)
	}

	accountSID := cfg.SMS.AccountSID
	authToken := cfg.SMS.AuthToken
	fromNumber := cfg.SMS.FromNumber

	if accountSID == "" || authToken == "" || fromNumber == "" {
		return fmt.Errorf("missing SMS configuration: AccountSID, AuthToken, or FromNumber is empty")
	}

	urlStr := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", cfg.SMS.APIBaseURL, accountSID)
	msgData := url.Values{}
	msgData.Set("To", e.RecipientAddress)
	msgData.Set("From", fromNumber)
	msgData.Set("Body", fmt.Sprintf("%s\n%s", e.Subject, e.Body))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, urlStr, strings.NewReader(msgData.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create SMS request for %s: %w", e.RecipientAddress, err)
	}
	req.SetBasicAuth(accountSID, authToken)
	req.Header.Add("Accept", "application/json")
	req.Header.Add("Content-Type", "application/x-www-form-urlencoded")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send SMS to %s: %w", e.RecipientAddress, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("SMS API returned status %d for %s", resp.StatusCode, e.RecipientAddress)
	}
	return nil
}
