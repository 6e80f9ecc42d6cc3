package models

import (
	"time"

	"github.com/google/uuid"
)

// Channel identifies a delivery transport for a queued notification.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelSlack    Channel = "slack"
	ChannelWebhook  Channel = "webhook"
	ChannelTelegram Channel = "telegram"
)

// Priority orders queue entries for dispatch. Higher priorities are always
// serviced first; entries of equal priority are serviced oldest-first.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Rank maps a priority to its numeric ordering weight.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityMedium:
		return 2
	case PriorityHigh:
		return 3
	case PriorityCritical:
		return 4
	default:
		return 0
	}
}

// QueueStatus is the lifecycle state of a notification queue entry.
type QueueStatus string

const (
	StatusQueued     QueueStatus = "queued"
	StatusProcessing QueueStatus = "processing"
	StatusSent       QueueStatus = "sent"
	StatusFailed     QueueStatus = "failed"
	StatusCancelled  QueueStatus = "cancelled"
)

// Terminal reports whether a status is final. Terminal entries are never
// re-queued or mutated by the dispatcher.
func (s QueueStatus) Terminal() bool {
	return s == StatusSent || s == StatusFailed || s == StatusCancelled
}

// QueueEntry is one unit of outbound notification work. Entries are durable
// rows: they survive restarts, and the dispatcher drives them through
// queued -> processing -> sent|failed, with failed attempts re-queued under
// exponential backoff until max_retries is exhausted.
type QueueEntry struct {
	ID               uuid.UUID      `json:"id"`
	OrgID            uuid.UUID      `json:"org_id"`
	BatchJobID       *uuid.UUID     `json:"batch_job_id,omitempty"`
	Type             string         `json:"notification_type"`
	RecipientID      string         `json:"recipient_id"`
	RecipientAddress string         `json:"recipient_address"`
	Channel          Channel        `json:"channel"`
	Priority         Priority       `json:"priority"`
	Subject          string         `json:"subject"`
	Body             string         `json:"body"`
	TemplateID       string         `json:"template_id,omitempty"`
	TemplateData     map[string]any `json:"template_data,omitempty"`
	ScheduledFor     time.Time      `json:"scheduled_for"`
	RetryCount       int            `json:"retry_count"`
	MaxRetries       int            `json:"max_retries"`
	Status           QueueStatus    `json:"status"`
	LastError        string         `json:"last_error,omitempty"`
	SentAt           *time.Time     `json:"sent_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}
