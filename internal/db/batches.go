package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"resilience-notifier/internal/models"
)

const batchColumns = `
        id, org_id, job_name, status, total_count, processed_count, success_count,
        failure_count, batch_size, template_id, recipient_filter,
        scheduled_for, started_at, completed_at, created_at`

// CreateBatchJob inserts a bulk-send job together with its expanded queue
// entries in one transaction, so a job row never exists without its entries.
func (d *DB) CreateBatchJob(ctx context.Context, job models.BatchJob, entries []models.QueueEntry) error {
	tx, err := d.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin batch job transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
        INSERT INTO batch_notification_jobs (
            id, org_id, job_name, status, total_count, processed_count, success_count,
            failure_count, batch_size, template_id, recipient_filter,
            scheduled_for, started_at, completed_at, created_at
        )
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		job.ID, job.OrgID, job.Name, job.Status, job.TotalCount, job.ProcessedCount,
		job.SuccessCount, job.FailureCount, job.BatchSize, job.TemplateID,
		job.RecipientFilter, job.ScheduledFor, job.StartedAt, job.CompletedAt, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert batch job: %w", err)
	}

	query := `
        INSERT INTO notification_queue (
            id, org_id, batch_job_id, notification_type, recipient_id, recipient_address,
            channel, priority, subject, body, template_id, template_data,
            scheduled_for, retry_count, max_retries, status, last_error,
            created_at, updated_at
        )
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(query,
			e.ID, e.OrgID, e.BatchJobID, e.Type, e.RecipientID, e.RecipientAddress,
			e.Channel, e.Priority, e.Subject, e.Body, e.TemplateID, e.TemplateData,
			e.ScheduledFor, e.RetryCount, e.MaxRetries, e.Status, e.LastError,
			e.CreatedAt, e.UpdatedAt)
	}
	results := tx.SendBatch(ctx, batch)
	for range entries {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("failed to insert batch job entries: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("failed to close batch insert: %w", err)
	}

	return tx.Commit(ctx)
}

// GetBatchJob fetches one bulk-send job by id.
func (d *DB) GetBatchJob(ctx context.Context, id uuid.UUID) (models.BatchJob, error) {
	var j models.BatchJob
	query := `SELECT` + batchColumns + ` FROM batch_notification_jobs WHERE id = $1`
	err := d.Pool.QueryRow(ctx, query, id).Scan(
		&j.ID, &j.OrgID, &j.Name, &j.Status, &j.TotalCount, &j.ProcessedCount,
		&j.SuccessCount, &j.FailureCount, &j.BatchSize, &j.TemplateID, &j.RecipientFilter,
		&j.ScheduledFor, &j.StartedAt, &j.CompletedAt, &j.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.BatchJob{}, ErrNotFound
		}
		return models.BatchJob{}, fmt.Errorf("failed to get batch job %s: %w", id, err)
	}
	return j, nil
}

// CancelBatchJob cancels a pending or processing job and cascades the
// cancellation to its still-queued entries. Entries already processing or in
// a terminal state are left untouched. Returns how many entries were
// cancelled.
func (d *DB) CancelBatchJob(ctx context.Context, id uuid.UUID) (int, error) {
	tx, err := d.Pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin cancel transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	result, err := tx.Exec(ctx, `
        UPDATE batch_notification_jobs
        SET status = 'cancelled', completed_at = now()
        WHERE id = $1 AND status IN ('pending', 'processing')`, id)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel batch job %s: %w", id, err)
	}
	if result.RowsAffected() == 0 {
		if _, err := d.GetBatchJob(ctx, id); err != nil {
			return 0, err
		}
		return 0, ErrInvalidState
	}

	cascade, err := tx.Exec(ctx, `
        UPDATE notification_queue
        SET status = 'cancelled', updated_at = now()
        WHERE batch_job_id = $1 AND status = 'queued'`, id)
	if err != nil {
		return 0, fmt.Errorf("failed to cascade cancellation for batch job %s: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit cancel transaction: %w", err)
	}
	return int(cascade.RowsAffected()), nil
}

// RecordBatchResult bumps a job's counters as one of its entries reaches a
// terminal delivery outcome, promoting the job to processing on first touch
// and to completed once every entry is accounted for.
func (d *DB) RecordBatchResult(ctx context.Context, id uuid.UUID, success bool) error {
	_, err := d.Pool.Exec(ctx, `
        UPDATE batch_notification_jobs
        SET processed_count = processed_count + 1,
            success_count = success_count + CASE WHEN $2 THEN 1 ELSE 0 END,
            failure_count = failure_count + CASE WHEN $2 THEN 0 ELSE 1 END,
            started_at = COALESCE(started_at, now()),
            completed_at = CASE
                WHEN processed_count + 1 >= total_count THEN now()
                ELSE completed_at
            END,
            status = CASE
                WHEN status NOT IN ('pending', 'processing') THEN status
                WHEN processed_count + 1 >= total_count THEN 'completed'
                ELSE 'processing'
            END
        WHERE id = $1`, id, success)
	if err != nil {
		return fmt.Errorf("failed to record batch result for job %s: %w", id, err)
	}
	return nil
}
