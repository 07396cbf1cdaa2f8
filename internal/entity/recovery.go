package entity

import (
	"context"
	"time"
)

// RecoveryPoint names the furthest step a mint job has durably completed.
type RecoveryPoint string

const (
	RecoveryInitiated        RecoveryPoint = "INITIATED"
	RecoveryValidated        RecoveryPoint = "VALIDATED"
	RecoveryLocked           RecoveryPoint = "LOCKED"
	RecoveryTicketReserved   RecoveryPoint = "TICKET_RESERVED"
	RecoveryMetadataUploaded RecoveryPoint = "METADATA_UPLOADED"
	RecoveryTxBuilt          RecoveryPoint = "TX_BUILT"
	RecoveryTxSubmitted      RecoveryPoint = "TX_SUBMITTED"
	RecoveryTxConfirmed      RecoveryPoint = "TX_CONFIRMED"
	RecoveryDBUpdated        RecoveryPoint = "DB_UPDATED"
	RecoveryCompleted        RecoveryPoint = "COMPLETED"
	RecoveryFailed           RecoveryPoint = "FAILED"
)

// recoveryOrder fixes the sequence Step advances through; used only to
// assert forward progress in tests, never to skip steps.
var recoveryOrder = []RecoveryPoint{
	RecoveryInitiated, RecoveryValidated, RecoveryLocked, RecoveryTicketReserved,
	RecoveryMetadataUploaded, RecoveryTxBuilt, RecoveryTxSubmitted,
	RecoveryTxConfirmed, RecoveryDBUpdated, RecoveryCompleted,
}

// IsTerminal reports whether a mint job in this recovery point will never advance further.
func (p RecoveryPoint) IsTerminal() bool {
	return p == RecoveryCompleted || p == RecoveryFailed
}

// RecoveryMetadata carries the per-step outputs a resumed job needs.
type RecoveryMetadata struct {
	MetadataURI *string
	Signature   *string
	MintAddress *string
	Error       *string
}

// RecoveryState is the durable checkpoint for one mint job. It is written
// after every step so a crash between any two steps can resume exactly once.
type RecoveryState struct {
	JobID         string
	TicketID      string
	TenantID      string
	CurrentPoint  RecoveryPoint
	PreviousPoint *RecoveryPoint
	RetryCount    int
	StartedAt     time.Time
	UpdatedAt     time.Time
	Metadata      RecoveryMetadata
}

// RecoveryTTL is how long a completed job's recovery state is retained.
const RecoveryTTL = 24 * time.Hour

// RecoveryStore is the KV-backed checkpoint surface for mint jobs, keyed by
// job_id. It must degrade to an in-process fallback when the backing KV is
// unavailable.
type RecoveryStore interface {
	// Save writes (or overwrites) the recovery state for a job.
	Save(ctx context.Context, state *RecoveryState) error

	// Load retrieves the recovery state for a job.
	//
	// # Possible errors
	//
	//  - NotFound: no recovery state exists for the job.
	Load(ctx context.Context, jobID string) (*RecoveryState, error)

	// Delete removes the recovery state immediately. Every Save sets an
	// expiry of RecoveryTTL, so a state that is saved again after Delete
	// is retained for that long.
	Delete(ctx context.Context, jobID string) error
}
