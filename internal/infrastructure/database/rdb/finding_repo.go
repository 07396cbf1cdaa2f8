package rdb

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ticketcore/scancore/internal/entity"
)

// FindingRepository implements entity.FindingRepository.
type FindingRepository struct {
	db *Database
}

var _ entity.FindingRepository = (*FindingRepository)(nil)

// NewFindingRepository builds a FindingRepository over db.
func NewFindingRepository(db *Database) *FindingRepository {
	return &FindingRepository{db: db}
}

const insertFindingQuery = `
	INSERT INTO anomaly_findings (ticket_id, tenant_id, score, detectors, occurred_at)
	VALUES ($1, $2, $3, $4, $5)
`

// Insert persists a composite anomaly finding that crossed the escalation
// threshold. detectors is stored as JSON since its shape (one entry per
// triggered heuristic) has no fixed column layout.
func (r *FindingRepository) Insert(ctx context.Context, ticketID, tenantID string, score int, findings []entity.AnomalyFinding, occurredAt time.Time) error {
	payload, err := json.Marshal(findings)
	if err != nil {
		return err
	}
	_, err = r.db.Pool.Exec(ctx, insertFindingQuery, ticketID, tenantID, score, payload, occurredAt)
	if err != nil {
		return toAppErr(err, "failed to insert anomaly finding")
	}
	return nil
}
