package detector

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"resilience-notifier/internal/models"
)

// ErrZeroThreshold is returned when a breach is reported against a zero
// threshold, which would make the variance undefined.
var ErrZeroThreshold = errors.New("threshold value must be non-zero")

// Store is the persistence surface the detector needs.
type Store interface {
	CreateBreach(ctx context.Context, b models.BreachEvent) error
	MarkBreachAlertSent(ctx context.Context, id uuid.UUID) error
	EnqueueBulk(ctx context.Context, entries []models.QueueEntry) error
}

// Broadcaster pushes a live breach alert to connected operators. Delivery is
// best-effort; the durable record is the queue, not the push.
type Broadcaster interface {
	BroadcastBreach(b models.BreachEvent)
}

// Recipient is one notification target for a detected breach.
type Recipient struct {
	ID      string         `json:"id"`
	Address string         `json:"address"`
	Channel models.Channel `json:"channel"`
}

// BreachInput carries one measured tolerance exceedance into the detector.
type BreachInput struct {
	OrgID          uuid.UUID
	ToleranceID    uuid.UUID
	OperationName  string
	ActualValue    float64
	ThresholdValue float64
	BusinessImpact string
	Recipients     []Recipient
}

// Detector turns measured tolerance exceedances into auditable breach
// records and durable notification work. It never calls delivery providers
// directly: every alert goes through the notification queue.
type Detector struct {
	store       Store
	logger      *logrus.Logger
	broadcaster Broadcaster
	maxRetries  int
}

func New(store Store, logger *logrus.Logger, maxRetries int) *Detector {
	return &Detector{store: store, logger: logger, maxRetries: maxRetries}
}

// SetBroadcaster wires the live alert feed. Optional; nil disables pushes.
func (d *Detector) SetBroadcaster(b Broadcaster) {
	d.broadcaster = b
}

// ClassifySeverity derives a severity tier from the absolute variance
// percentage. All breach producers share this single classification so call
// sites cannot disagree on what counts as critical.
func ClassifySeverity(variancePct float64) models.Severity {
	v := math.Abs(variancePct)
	switch {
	case v >= 50:
		return models.SeverityCritical
	case v >= 25:
		return models.SeverityHigh
	case v >= 10:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// priorityFor maps breach severity onto queue priority.
func priorityFor(s models.Severity) models.Priority {
	switch s {
	case models.SeverityCritical:
		return models.PriorityCritical
	case models.SeverityHigh:
		return models.PriorityHigh
	case models.SeverityMedium:
		return models.PriorityMedium
	default:
		return models.PriorityLow
	}
}

// LogToleranceBreach computes the variance, classifies severity, persists the
// breach record, and enqueues one notification entry per recipient. The
// variance is computed exactly once here; it is never recomputed afterwards.
// A failure to enqueue does not fail the breach record: the row persists with
// alert_sent = false as the durable signal that alerting was not confirmed.
func (d *Detector) LogToleranceBreach(ctx context.Context, in BreachInput) (uuid.UUID, error) {
	if in.ThresholdValue == 0 {
		return uuid.Nil, ErrZeroThreshold
	}

	variance := (in.ActualValue - in.ThresholdValue) / in.ThresholdValue * 100
	severity := ClassifySeverity(variance)
	now := time.Now()

	breach := models.BreachEvent{
		ID:               uuid.New(),
		OrgID:            in.OrgID,
		ToleranceID:      in.ToleranceID,
		OperationName:    in.OperationName,
		ActualValue:      in.ActualValue,
		ThresholdValue:   in.ThresholdValue,
		VariancePct:      variance,
		Severity:         severity,
		BusinessImpact:   in.BusinessImpact,
		ResolutionStatus: models.ResolutionOpen,
		BreachDate:       now,
	}

	if err := d.store.CreateBreach(ctx, breach); err != nil {
		return uuid.Nil, fmt.Errorf("persist breach for tolerance %s: %w", in.ToleranceID, err)
	}
	d.logger.WithFields(logrus.Fields{
		"breach_id":    breach.ID,
		"tolerance_id": in.ToleranceID,
		"severity":     severity,
		"variance_pct": variance,
	}).Info("Tolerance breach recorded")

	if d.broadcaster != nil {
		d.broadcaster.BroadcastBreach(breach)
	}

	entries := d.buildEntries(breach, in.Recipients, now)
	if len(entries) == 0 {
		return breach.ID, nil
	}
	if err := d.store.EnqueueBulk(ctx, entries); err != nil {
		// The breach is recorded; alert_sent stays false so the missed alert
		// remains discoverable.
		d.logger.WithError(err).WithField("breach_id", breach.ID).
			Error("Failed to enqueue breach notifications")
		return breach.ID, nil
	}
	if err := d.store.MarkBreachAlertSent(ctx, breach.ID); err != nil {
		d.logger.WithError(err).WithField("breach_id", breach.ID).
			Error("Failed to mark breach alert sent")
	}
	return breach.ID, nil
}

func (d *Detector) buildEntries(b models.BreachEvent, recipients []Recipient, now time.Time) []models.QueueEntry {
	subject := fmt.Sprintf("Tolerance breach: %s (%s)", b.OperationName, b.Severity)
	body := fmt.Sprintf(
		"Operation %q breached its tolerance.\nActual: %.2f\nThreshold: %.2f\nVariance: %.1f%%\nSeverity: %s",
		b.OperationName, b.ActualValue, b.ThresholdValue, b.VariancePct, b.Severity,
	)
	if b.BusinessImpact != "" {
		body += "\nBusiness impact: " + b.BusinessImpact
	}

	entries := make([]models.QueueEntry, 0, len(recipients))
	for _, r := range recipients {
		entries = append(entries, models.QueueEntry{
			ID:               uuid.New(),
			OrgID:            b.OrgID,
			Type:             "tolerance_breach",
			RecipientID:      r.ID,
			RecipientAddress: r.Address,
			Channel:          r.Channel,
			Priority:         priorityFor(b.Severity),
			Subject:          subject,
			Body:             body,
			TemplateID:       "tolerance_breach_alert",
			TemplateData: map[string]any{
				"breach_id":       b.ID.String(),
				"operation_name":  b.OperationName,
				"actual_value":    b.ActualValue,
				"threshold_value": b.ThresholdValue,
				"variance_pct":    b.VariancePct,
				"severity":        string(b.Severity),
			},
			ScheduledFor: now,
			MaxRetries:   d.maxRetries,
			Status:       models.StatusQueued,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}
	return entries
}

// EvaluateMeasurement checks a live measurement against its threshold and
// logs a breach when the measurement exceeds it. Returns whether a breach was
// detected and, if so, its id.
func (d *Detector) EvaluateMeasurement(ctx context.Context, in BreachInput) (bool, uuid.UUID, error) {
	if in.ThresholdValue == 0 {
		return false, uuid.Nil, ErrZeroThreshold
	}
	if in.ActualValue <= in.ThresholdValue {
		return false, uuid.Nil, nil
	}
	id, err := d.LogToleranceBreach(ctx, in)
	if err != nil {
		return false, uuid.Nil, err
	}
	return true, id, nil
}
