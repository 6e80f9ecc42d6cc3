package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"resilience-notifier/internal/models"
)

const queueColumns = `
        id, org_id, batch_job_id, notification_type, recipient_id, recipient_address,
        channel, priority, subject, body, template_id, template_data,
        scheduled_for, retry_count, max_retries, status, last_error, sent_at,
        created_at, updated_at`

// priorityOrder maps the textual priority to its ordering weight in SQL so
// that fetches come back priority-descending, oldest-first within a tier.
const priorityOrder = `
        CASE priority
            WHEN 'critical' THEN 4
            WHEN 'high' THEN 3
            WHEN 'medium' THEN 2
            WHEN 'low' THEN 1
            ELSE 0
        END DESC, created_at ASC`

func scanQueueEntry(row pgx.Row) (models.QueueEntry, error) {
	var e models.QueueEntry
	err := row.Scan(
		&e.ID, &e.OrgID, &e.BatchJobID, &e.Type, &e.RecipientID, &e.RecipientAddress,
		&e.Channel, &e.Priority, &e.Subject, &e.Body, &e.TemplateID, &e.TemplateData,
		&e.ScheduledFor, &e.RetryCount, &e.MaxRetries, &e.Status, &e.LastError, &e.SentAt,
		&e.CreatedAt, &e.UpdatedAt,
	)
	return e, err
}

// Enqueue inserts one notification entry with status queued.
func (d *DB) Enqueue(ctx context.Context, e models.QueueEntry) error {
	query := `
        INSERT INTO notification_queue (
            id, org_id, batch_job_id, notification_type, recipient_id, recipient_address,
            channel, priority, subject, body, template_id, template_data,
            scheduled_for, retry_count, max_retries, status, last_error,
            created_at, updated_at
        )
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`
	_, err := d.Pool.Exec(ctx, query,
		e.ID, e.OrgID, e.BatchJobID, e.Type, e.RecipientID, e.RecipientAddress,
		e.Channel, e.Priority, e.Subject, e.Body, e.TemplateID, e.TemplateData,
		e.ScheduledFor, e.RetryCount, e.MaxRetries, e.Status, e.LastError,
		e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to enqueue notification: %w", err)
	}
	return nil
}

// EnqueueBulk inserts many entries in one round trip.
func (d *DB) EnqueueBulk(ctx context.Context, entries []models.QueueEntry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	query := `
        INSERT INTO notification_queue (
            id, org_id, batch_job_id, notification_type, recipient_id, recipient_address,
            channel, priority, subject, body, template_id, template_data,
            scheduled_for, retry_count, max_retries, status, last_error,
            created_at, updated_at
        )
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`
	for _, e := range entries {
		batch.Queue(query,
			e.ID, e.OrgID, e.BatchJobID, e.Type, e.RecipientID, e.RecipientAddress,
			e.Channel, e.Priority, e.Subject, e.Body, e.TemplateID, e.TemplateData,
			e.ScheduledFor, e.RetryCount, e.MaxRetries, e.Status, e.LastError,
			e.CreatedAt, e.UpdatedAt)
	}
	results := d.Pool.SendBatch(ctx, batch)
	defer results.Close()
	for range entries {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to enqueue notification batch: %w", err)
		}
	}
	return nil
}

// ClaimDue atomically claims up to limit due queued entries and marks them
// processing in the same statement. SKIP LOCKED keeps concurrent dispatcher
// replicas from claiming the same rows.
func (d *DB) ClaimDue(ctx context.Context, limit int) ([]models.QueueEntry, error) {
	query := `
        UPDATE notification_queue
        SET status = 'processing', updated_at = now()
        WHERE id IN (
            SELECT id FROM notification_queue
            WHERE status = 'queued' AND scheduled_for <= now()
            ORDER BY` + priorityOrder + `
            LIMIT $1
            FOR UPDATE SKIP LOCKED
        )
        RETURNING` + queueColumns
	rows, err := d.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim due notifications: %w", err)
	}
	defer rows.Close()

	var entries []models.QueueEntry
	for rows.Next() {
		e, err := scanQueueEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan claimed notification: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// MarkSent finalizes a processing entry as delivered.
func (d *DB) MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error {
	result, err := d.Pool.Exec(ctx, `
        UPDATE notification_queue
        SET status = 'sent', sent_at = $2, last_error = '', updated_at = now()
        WHERE id = $1 AND status = 'processing'`, id, sentAt)
	if err != nil {
		return fmt.Errorf("failed to mark notification %s sent: %w", id, err)
	}
	if result.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// ScheduleRetry re-queues a processing entry for a later attempt. The retry
// count and the backoff-adjusted scheduled_for are computed by the caller at
// failure time.
func (d *DB) ScheduleRetry(ctx context.Context, id uuid.UUID, retryCount int, next time.Time, lastError string) error {
	result, err := d.Pool.Exec(ctx, `
        UPDATE notification_queue
        SET status = 'queued', retry_count = $2, scheduled_for = $3,
            last_error = $4, updated_at = now()
        WHERE id = $1 AND status = 'processing'`, id, retryCount, next, lastError)
	if err != nil {
		return fmt.Errorf("failed to schedule retry for notification %s: %w", id, err)
	}
	if result.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// MarkFailed finalizes a processing entry after its retries are exhausted.
// Terminal rows are never re-queued automatically.
func (d *DB) MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error {
	result, err := d.Pool.Exec(ctx, `
        UPDATE notification_queue
        SET status = 'failed', last_error = $2, updated_at = now()
        WHERE id = $1 AND status = 'processing'`, id, lastError)
	if err != nil {
		return fmt.Errorf("failed to mark notification %s failed: %w", id, err)
	}
	if result.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// CancelEntry cancels a single entry on operator request. Only entries still
// waiting in the queue can be cancelled.
func (d *DB) CancelEntry(ctx context.Context, id uuid.UUID) error {
	result, err := d.Pool.Exec(ctx, `
        UPDATE notification_queue
        SET status = 'cancelled', updated_at = now()
        WHERE id = $1 AND status = 'queued'`, id)
	if err != nil {
		return fmt.Errorf("failed to cancel notification %s: %w", id, err)
	}
	if result.RowsAffected() == 0 {
		if _, err := d.GetQueueEntry(ctx, id); err != nil {
			return err
		}
		return ErrInvalidState
	}
	return nil
}

// GetQueueEntry fetches one entry by id.
func (d *DB) GetQueueEntry(ctx context.Context, id uuid.UUID) (models.QueueEntry, error) {
	query := `SELECT` + queueColumns + ` FROM notification_queue WHERE id = $1`
	e, err := scanQueueEntry(d.Pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.QueueEntry{}, ErrNotFound
		}
		return models.QueueEntry{}, fmt.Errorf("failed to get notification %s: %w", id, err)
	}
	return e, nil
}

// ListQueueEntries fetches entries for an organization, newest first, with an
// optional status filter ("all" disables the filter).
func (d *DB) ListQueueEntries(ctx context.Context, orgID uuid.UUID, statusFilter string, limit, offset int) ([]models.QueueEntry, error) {
	query := `SELECT` + queueColumns + ` FROM notification_queue WHERE org_id = $1`
	args := []interface{}{orgID}
	if statusFilter != "all" {
		query += ` AND status = $2 ORDER BY created_at DESC LIMIT $3 OFFSET $4`
		args = append(args, statusFilter, limit, offset)
	} else {
		query += ` ORDER BY created_at DESC LIMIT $2 OFFSET $3`
		args = append(args, limit, offset)
	}

	rows, err := d.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var entries []models.QueueEntry
	for rows.Next() {
		e, err := scanQueueEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// CountByStatus returns the queue population grouped by status.
func (d *DB) CountByStatus(ctx context.Context) (map[models.QueueStatus]int, error) {
	rows, err := d.Pool.Query(ctx,
		`SELECT status, COUNT(*) FROM notification_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count queue by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.QueueStatus]int)
	for rows.Next() {
		var status models.QueueStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan queue count: %w", err)
		}
		counts[status] = n
	}
	return counts, nil
}

// CountRetryPending returns how many queued entries have already failed at
// least once and are waiting out their backoff.
func (d *DB) CountRetryPending(ctx context.Context) (int, error) {
	var n int
	err := d.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM notification_queue WHERE status = 'queued' AND retry_count > 0`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count retry-pending notifications: %w", err)
	}
	return n, nil
}
