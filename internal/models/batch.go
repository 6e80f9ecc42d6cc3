package models

import (
	"time"

	"github.com/google/uuid"
)

// BatchStatus is the lifecycle state of a bulk-send job.
type BatchStatus string

const (
	BatchPending    BatchStatus = "pending"
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
	BatchCancelled  BatchStatus = "cancelled"
)

// BatchJob is a named bulk-send operation owning zero or more queue entries.
// Cancelling a job cascades cancellation to its still-queued entries; entries
// already processing or terminal are left untouched.
type BatchJob struct {
	ID              uuid.UUID      `json:"id"`
	OrgID           uuid.UUID      `json:"org_id"`
	Name            string         `json:"job_name"`
	Status          BatchStatus    `json:"status"`
	TotalCount      int            `json:"total_count"`
	ProcessedCount  int            `json:"processed_count"`
	SuccessCount    int            `json:"success_count"`
	FailureCount    int            `json:"failure_count"`
	BatchSize       int            `json:"batch_size"`
	TemplateID      string         `json:"template_id,omitempty"`
	RecipientFilter map[string]any `json:"recipient_filter,omitempty"`
	ScheduledFor    *time.Time     `json:"scheduled_for,omitempty"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}
