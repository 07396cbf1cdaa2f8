package rdb

import (
	"context"

	"github.com/ticketcore/scancore/internal/entity"
)

// TreasuryRepository implements entity.TreasuryRepository. Both tables are
// audit trails of decisions already made by the in-process monitor, so
// neither method participates in a caller's tenant-scoped transaction.
type TreasuryRepository struct {
	db *Database
}

var _ entity.TreasuryRepository = (*TreasuryRepository)(nil)

// NewTreasuryRepository builds a TreasuryRepository over db.
func NewTreasuryRepository(db *Database) *TreasuryRepository {
	return &TreasuryRepository{db: db}
}

const (
	insertTreasuryTxQuery = `
		INSERT INTO treasury_transactions (id, tenant_id, destination, amount, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	insertTreasuryAlertQuery = `
		INSERT INTO treasury_alerts (id, tenant_id, level, detail, raised_at)
		VALUES ($1, $2, $3, $4, $5)
	`
)

// InsertTransaction records an outgoing transfer for audit purposes.
func (r *TreasuryRepository) InsertTransaction(ctx context.Context, tx *entity.TreasuryTransaction) error {
	_, err := r.db.Pool.Exec(ctx, insertTreasuryTxQuery, tx.ID, tx.TenantID, tx.Destination, tx.Amount, tx.OccurredAt)
	if err != nil {
		return toAppErr(err, "failed to insert treasury transaction")
	}
	return nil
}

// InsertAlert records a raised alert for audit purposes.
func (r *TreasuryRepository) InsertAlert(ctx context.Context, alert *entity.TreasuryAlert) error {
	_, err := r.db.Pool.Exec(ctx, insertTreasuryAlertQuery, alert.ID, alert.TenantID, alert.Level, alert.Detail, alert.RaisedAt)
	if err != nil {
		return toAppErr(err, "failed to insert treasury alert")
	}
	return nil
}
