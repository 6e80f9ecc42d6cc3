package providers

import (
	"context"
	"fmt"
	"net/smtp"

	"resilience-notifier/internal/config"
	"resilience-notifier/internal/models"
)

// SendEmail delivers a queue entry over SMTP. The recipient address is the
// entry's channel-specific address.
func SendEmail(_ context.Context, e models.QueueEntry, cfg config.Config) error {
	if e.RecipientAddress == "" {
		return fmt.Errorf("email address not set for recipient %s", e.RecipientID)
	}

	smtpServer := cfg.Email.SMTPServer
	smtpPort := cfg.Email.SMTPPort
	username := cfg.Email.Username
	password := cfg.Email.Password

	if smtpServer == "" || smtpPort == 0 || username == "" || password == "" {
		return fmt.Errorf("missing Email configuration: SMTPServer, SMTPPort, Username, or Password is empty")
	}

	from := username
	if cfg.Email.FromName != "" {
		from = fmt.Sprintf("%s <%s>", cfg.Email.FromName, username)
	}
	message := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		from, e.RecipientAddress, e.Subject, e.Body)

	auth := smtp.PlainAuth("", username, password, smtpServer)
	addr := fmt.Sprintf("%s:%d", smtpServer, smtpPort)

	if err := smtp.SendMail(addr, auth, username, []string{e.RecipientAddress}, []byte(message)); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", e.RecipientAddress, err)
	}
	return nil
}
