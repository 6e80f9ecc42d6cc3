package models

import (
	"time"

	"github.com/google/uuid"
)

// Severity classifies how far a measurement exceeded its tolerance.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities for comparison (low < medium < high < critical).
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// ResolutionStatus tracks the operational follow-up on a breach.
type ResolutionStatus string

const (
	ResolutionOpen         ResolutionStatus = "open"
	ResolutionAcknowledged ResolutionStatus = "acknowledged"
	ResolutionInProgress   ResolutionStatus = "in_progress"
	ResolutionResolved     ResolutionStatus = "resolved"
)

// BreachEvent is one recorded exceedance of a configured operational tolerance.
// Rows are append-only: escalation and resolution mutate status fields, but a
// breach is never deleted and its variance is never recomputed.
type BreachEvent struct {
	ID               uuid.UUID        `json:"id"`
	OrgID            uuid.UUID        `json:"org_id"`
	ToleranceID      uuid.UUID        `json:"tolerance_id"`
	OperationName    string           `json:"operation_name"`
	ActualValue      float64          `json:"actual_value"`
	ThresholdValue   float64          `json:"threshold_value"`
	VariancePct      float64          `json:"variance_percentage"`
	Severity         Severity         `json:"severity"`
	BusinessImpact   string           `json:"business_impact,omitempty"`
	ResolutionStatus ResolutionStatus `json:"resolution_status"`
	EscalationLevel  int              `json:"escalation_level,omitempty"`
	EscalationTarget string           `json:"escalation_target,omitempty"`
	AlertSent        bool             `json:"alert_sent"`
	BoardReported    bool             `json:"board_reported"`
	BreachDate       time.Time        `json:"breach_date"`
	EscalatedAt      *time.Time       `json:"escalated_at,omitempty"`
	ResolutionDate   *time.Time       `json:"resolution_date,omitempty"`
}
