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

const breachColumns = `
        id, org_id, tolerance_id, operation_name, actual_value, threshold_value,
        variance_percentage, severity, business_impact, resolution_status,
        escalation_level, escalation_target, alert_sent, board_reported,
        breach_date, escalated_at, resolution_date`

// CreateBreach inserts a new tolerance breach record. The variance percentage
// is written once here and never updated afterwards.
func (d *DB) CreateBreach(ctx context.Context, b models.BreachEvent) error {
	query := `
        INSERT INTO tolerance_breaches (
            id, org_id, tolerance_id, operation_name, actual_value, threshold_value,
            variance_percentage, severity, business_impact, resolution_status,
            escalation_level, escalation_target, alert_sent, board_reported,
            breach_date, escalated_at, resolution_date
        )
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`
	_, err := d.Pool.Exec(ctx, query,
		b.ID, b.OrgID, b.ToleranceID, b.OperationName, b.ActualValue, b.ThresholdValue,
		b.VariancePct, b.Severity, b.BusinessImpact, b.ResolutionStatus,
		b.EscalationLevel, b.EscalationTarget, b.AlertSent, b.BoardReported,
		b.BreachDate, b.EscalatedAt, b.ResolutionDate)
	if err != nil {
		return fmt.Errorf("failed to insert breach: %w", err)
	}
	return nil
}

func scanBreach(row pgx.Row) (models.BreachEvent, error) {
	var b models.BreachEvent
	err := row.Scan(
		&b.ID, &b.OrgID, &b.ToleranceID, &b.OperationName, &b.ActualValue, &b.ThresholdValue,
		&b.VariancePct, &b.Severity, &b.BusinessImpact, &b.ResolutionStatus,
		&b.EscalationLevel, &b.EscalationTarget, &b.AlertSent, &b.BoardReported,
		&b.BreachDate, &b.EscalatedAt, &b.ResolutionDate,
	)
	return b, err
}

// GetBreach fetches one breach by id.
func (d *DB) GetBreach(ctx context.Context, id uuid.UUID) (models.BreachEvent, error) {
	query := `SELECT ` + breachColumns + ` FROM tolerance_breaches WHERE id = $1`
	b, err := scanBreach(d.Pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.BreachEvent{}, ErrNotFound
		}
		return models.BreachEvent{}, fmt.Errorf("failed to get breach %s: %w", id, err)
	}
	return b, nil
}

// ListBreaches fetches breaches for an organization with pagination and an
// optional resolution-status filter ("all" disables the filter).
func (d *DB) ListBreaches(ctx context.Context, orgID uuid.UUID, statusFilter string, limit, offset int) ([]models.BreachEvent, int, error) {
	countQ := `SELECT COUNT(*) FROM tolerance_breaches WHERE org_id = $1`
	countArgs := []interface{}{orgID}
	if statusFilter != "all" {
		countQ += ` AND resolution_status = $2`
		countArgs = append(countArgs, statusFilter)
	}

	var total int
	if err := d.Pool.QueryRow(ctx, countQ, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count breaches: %w", err)
	}

	query := `SELECT ` + breachColumns + ` FROM tolerance_breaches WHERE org_id = $1`
	args := []interface{}{orgID}
	if statusFilter != "all" {
		query += ` AND resolution_status = $2 ORDER BY breach_date DESC LIMIT $3 OFFSET $4`
		args = append(args, statusFilter, limit, offset)
	} else {
		query += ` ORDER BY breach_date DESC LIMIT $2 OFFSET $3`
		args = append(args, limit, offset)
	}

	rows, err := d.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list breaches: %w", err)
	}
	defer rows.Close()

	var list []models.BreachEvent
	for rows.Next() {
		b, err := scanBreach(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan breach: %w", err)
		}
		list = append(list, b)
	}
	return list, total, nil
}

// MarkBreachAlertSent records that notification entries for the breach were
// durably queued.
func (d *DB) MarkBreachAlertSent(ctx context.Context, id uuid.UUID) error {
	result, err := d.Pool.Exec(ctx,
		`UPDATE tolerance_breaches SET alert_sent = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark alert sent for breach %s: %w", id, err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// EscalateBreach raises the escalation level of an unresolved breach and
// stamps escalated_at.
func (d *DB) EscalateBreach(ctx context.Context, id uuid.UUID, level int, target string) error {
	result, err := d.Pool.Exec(ctx, `
        UPDATE tolerance_breaches
        SET escalation_level = $2, escalation_target = $3, escalated_at = $4
        WHERE id = $1 AND resolution_status <> 'resolved'`,
		id, level, target, time.Now())
	if err != nil {
		return fmt.Errorf("failed to escalate breach %s: %w", id, err)
	}
	if result.RowsAffected() == 0 {
		if _, err := d.GetBreach(ctx, id); err != nil {
			return err
		}
		return ErrInvalidState
	}
	return nil
}

// UpdateBreachResolution advances the resolution workflow. Only forward
// transitions are accepted; resolution_date is stamped when the breach
// reaches resolved.
func (d *DB) UpdateBreachResolution(ctx context.Context, id uuid.UUID, status models.ResolutionStatus) error {
	var resolutionDate *time.Time
	if status == models.ResolutionResolved {
		now := time.Now()
		resolutionDate = &now
	}
	result, err := d.Pool.Exec(ctx, `
        UPDATE tolerance_breaches
        SET resolution_status = $2,
            resolution_date = COALESCE($3, resolution_date)
        WHERE id = $1 AND resolution_status <> 'resolved'`,
		id, status, resolutionDate)
	if err != nil {
		return fmt.Errorf("failed to update resolution for breach %s: %w", id, err)
	}
	if result.RowsAffected() == 0 {
		if _, err := d.GetBreach(ctx, id); err != nil {
			return err
		}
		return ErrInvalidState
	}
	return nil
}

// MarkBoardReported flags a breach as included in board reporting.
func (d *DB) MarkBoardReported(ctx context.Context, id uuid.UUID) error {
	result, err := d.Pool.Exec(ctx,
		`UPDATE tolerance_breaches SET board_reported = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark board reported for breach %s: %w", id, err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
