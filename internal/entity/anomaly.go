package entity

import (
	"context"
	"time"
)

// AnomalySeverity is the qualitative level a single detector assigns its finding.
type AnomalySeverity string

const (
	SeverityLow      AnomalySeverity = "low"
	SeverityMedium   AnomalySeverity = "medium"
	SeverityHigh     AnomalySeverity = "high"
	SeverityCritical AnomalySeverity = "critical"
)

// Score returns the numeric weight used by the composite risk formula.
func (s AnomalySeverity) Score() int {
	switch s {
	case SeverityLow:
		return 10
	case SeverityMedium:
		return 30
	case SeverityHigh:
		return 60
	case SeverityCritical:
		return 100
	default:
		return 0
	}
}

// AnomalyDetectorName identifies which heuristic produced a finding.
type AnomalyDetectorName string

const (
	DetectorRapidRescan AnomalyDetectorName = "rapid_rescan"
	DetectorMultiDevice AnomalyDetectorName = "multi_device"
	DetectorOffHours    AnomalyDetectorName = "off_hours"
	DetectorPattern     AnomalyDetectorName = "pattern"
)

// AnomalyFinding is a single detector's output for one ticket/scan event.
type AnomalyFinding struct {
	Detector AnomalyDetectorName
	Severity AnomalySeverity
	Detail   string
}

// AnomalyScoreThreshold is the risk score above which a composite finding
// is persisted and escalated to the logger.
const AnomalyScoreThreshold = 70

// FindingRepository persists composite anomaly findings that crossed the
// escalation threshold.
type FindingRepository interface {
	Insert(ctx context.Context, ticketID, tenantID string, score int, findings []AnomalyFinding, occurredAt time.Time) error
}
