package entity

import "context"

// BlockchainTxType enumerates the kinds of on-chain operation this core
// orchestrates.
type BlockchainTxType string

const (
	BlockchainTxMint     BlockchainTxType = "MINT"
	BlockchainTxTransfer BlockchainTxType = "TRANSFER"
	BlockchainTxBurn     BlockchainTxType = "BURN"
)

// BlockchainTxStatus is the lifecycle of a single on-chain transaction.
type BlockchainTxStatus string

const (
	BlockchainTxPending    BlockchainTxStatus = "PENDING"
	BlockchainTxMinting    BlockchainTxStatus = "MINTING"
	BlockchainTxProcessing BlockchainTxStatus = "PROCESSING"
	BlockchainTxConfirmed  BlockchainTxStatus = "CONFIRMED"
	BlockchainTxFinalized  BlockchainTxStatus = "FINALIZED"
	BlockchainTxFailed     BlockchainTxStatus = "FAILED"
	BlockchainTxExpired    BlockchainTxStatus = "EXPIRED"
)

// BlockchainTransaction tracks one attempt to mutate chain state on behalf
// of a ticket. The tuple (TicketID, TenantID, Type) is unique.
type BlockchainTransaction struct {
	TicketID    string
	TenantID    string
	Type        BlockchainTxType
	Status      BlockchainTxStatus
	Signature   *string
	MintAddress *string
	SlotNumber  uint64
}

// BlockchainTxRepository persists BlockchainTransaction rows.
type BlockchainTxRepository interface {
	// Upsert creates or replaces the row for (ticketID, tenantID, txType),
	// honoring the uniqueness constraint.
	Upsert(ctx context.Context, tx *BlockchainTransaction) error

	// UpdateStatus transitions the status of an existing row.
	UpdateStatus(ctx context.Context, ticketID, tenantID string, txType BlockchainTxType, status BlockchainTxStatus, signature *string) error

	// Get retrieves the row for (ticketID, tenantID, txType).
	//
	// # Possible errors
	//
	//  - NotFound: no row exists for the tuple.
	Get(ctx context.Context, ticketID, tenantID string, txType BlockchainTxType) (*BlockchainTransaction, error)
}
