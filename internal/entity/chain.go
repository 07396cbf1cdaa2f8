package entity

import (
	"context"
	"time"
)

// Commitment is the chain-specified durability level a submitted
// transaction can be confirmed at.
type Commitment string

const (
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

// Urgency scales the priority fee a caller is willing to pay.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

// TxInstructions is the opaque, chain-specific payload (e.g. program
// instructions) that Build assembles into an UnsignedTx.
type TxInstructions struct {
	Kind        BlockchainTxType
	TenantID    string
	Recipient   string
	TokenID     uint64
	ComputeUnit uint32
	PriorityFee uint64
}

// FeeEstimate is the result of simulating a transaction before it is built.
type FeeEstimate struct {
	ComputeUnits     uint32
	PriorityFeeMicro uint64
	Simulated        bool
}

// UnsignedTx is a chain-specific transaction ready for signing.
type UnsignedTx struct {
	Instructions TxInstructions
	Blockhash    string
	ComputeUnits uint32
	PriorityFee  uint64
}

// SignedTx is a transaction with a signature attached, ready for submission.
type SignedTx struct {
	UnsignedTx
	Signature string
}

// TxConfirmation is the outcome of polling the chain for a submitted
// transaction's status.
type TxConfirmation struct {
	Status     BlockchainTxStatus
	SlotNumber uint64
	Err        error
}

// ChainAdapter is the capability set the Mint Orchestrator drives a ticket
// mint through: estimate, build, sign, submit, confirm, plus balance reads
// used by the Treasury Guard.
type ChainAdapter interface {
	// Estimate simulates instructions and returns a compute/fee estimate.
	Estimate(ctx context.Context, instructions TxInstructions, urgency Urgency) (*FeeEstimate, error)

	// Build assembles instructions into an UnsignedTx using a fresh blockhash.
	Build(ctx context.Context, instructions TxInstructions, estimate *FeeEstimate, signer string) (*UnsignedTx, error)

	// Submit sends a signed transaction and returns its signature.
	Submit(ctx context.Context, tx *SignedTx) (signature string, err error)

	// Confirm polls the chain for signature until it reaches commitment or
	// timeout elapses.
	Confirm(ctx context.Context, signature string, commitment Commitment, timeout time.Duration) (*TxConfirmation, error)

	// GetBalance returns the native-unit balance of address.
	GetBalance(ctx context.Context, address string) (float64, error)
}

// Signer produces a SignedTx from an UnsignedTx, backed by the Custodial
// Key Vault.
type Signer interface {
	Sign(ctx context.Context, tx *UnsignedTx, walletID string, reason string) (*SignedTx, error)
}

// MetadataUploader is the external metadata storage collaborator the Mint
// Orchestrator checkpoints against at METADATA_UPLOADED.
type MetadataUploader interface {
	Upload(ctx context.Context, ticketID string, metadata map[string]string) (uri string, err error)
}
