package rdb

import (
	"context"

	"github.com/ticketcore/scancore/internal/entity"
)

// BlockchainTxRepository implements entity.BlockchainTxRepository.
type BlockchainTxRepository struct {
	db *Database
}

var _ entity.BlockchainTxRepository = (*BlockchainTxRepository)(nil)

// NewBlockchainTxRepository builds a BlockchainTxRepository over db.
func NewBlockchainTxRepository(db *Database) *BlockchainTxRepository {
	return &BlockchainTxRepository{db: db}
}

const (
	upsertBlockchainTxQuery = `
		INSERT INTO blockchain_transactions (ticket_id, tenant_id, type, status, signature, mint_address, slot_number)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (ticket_id, tenant_id, type) DO UPDATE SET
			status = EXCLUDED.status,
			signature = EXCLUDED.signature,
			mint_address = EXCLUDED.mint_address,
			slot_number = EXCLUDED.slot_number
	`

	updateBlockchainTxStatusQuery = `
		UPDATE blockchain_transactions SET status = $4, signature = COALESCE($5, signature)
		WHERE ticket_id = $1 AND tenant_id = $2 AND type = $3
	`

	getBlockchainTxQuery = `
		SELECT ticket_id, tenant_id, type, status, signature, mint_address, slot_number
		FROM blockchain_transactions
		WHERE ticket_id = $1 AND tenant_id = $2 AND type = $3
	`
)

// Upsert creates or replaces the row for (ticketID, tenantID, txType),
// honoring the uniqueness constraint.
func (r *BlockchainTxRepository) Upsert(ctx context.Context, tx *entity.BlockchainTransaction) error {
	_, err := querierFrom(ctx, r.db).Exec(ctx, upsertBlockchainTxQuery,
		tx.TicketID, tx.TenantID, tx.Type, tx.Status, tx.Signature, tx.MintAddress, tx.SlotNumber)
	if err != nil {
		return toAppErr(err, "failed to upsert blockchain transaction")
	}
	return nil
}

// UpdateStatus transitions the status of an existing row.
func (r *BlockchainTxRepository) UpdateStatus(ctx context.Context, ticketID, tenantID string, txType entity.BlockchainTxType, status entity.BlockchainTxStatus, signature *string) error {
	tag, err := querierFrom(ctx, r.db).Exec(ctx, updateBlockchainTxStatusQuery, ticketID, tenantID, txType, status, signature)
	if err != nil {
		return toAppErr(err, "failed to update blockchain transaction status")
	}
	return errRowsAffected(tag, "blockchain_transaction")
}

// Get retrieves the row for (ticketID, tenantID, txType).
//
// # Possible errors
//
//   - NotFound: no row exists for the tuple.
func (r *BlockchainTxRepository) Get(ctx context.Context, ticketID, tenantID string, txType entity.BlockchainTxType) (*entity.BlockchainTransaction, error) {
	row := querierFrom(ctx, r.db).QueryRow(ctx, getBlockchainTxQuery, ticketID, tenantID, txType)

	var tx entity.BlockchainTransaction
	err := row.Scan(&tx.TicketID, &tx.TenantID, &tx.Type, &tx.Status, &tx.Signature, &tx.MintAddress, &tx.SlotNumber)
	if err != nil {
		return nil, toAppErr(err, "failed to get blockchain transaction")
	}
	return &tx, nil
}
