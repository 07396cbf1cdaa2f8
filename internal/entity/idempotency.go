package entity

import (
	"context"
	"time"
)

// IdempotencyStatus is the lifecycle of a cached idempotency entry.
type IdempotencyStatus string

const (
	IdempotencyProcessing IdempotencyStatus = "processing"
	IdempotencyCompleted  IdempotencyStatus = "completed"
	IdempotencyFailed     IdempotencyStatus = "failed"
)

// IdempotencyEntry caches the outcome of a client-supplied idempotency key
// so a replayed request returns the identical response instead of
// re-executing side effects.
type IdempotencyEntry struct {
	Key           string
	TenantID      string
	Status        IdempotencyStatus
	Response      []byte
	RecoveryPoint *RecoveryPoint
	ExpiresAt     time.Time
}

// IdempotencyTTL is how long an entry is retained after being written.
const IdempotencyTTL = 24 * time.Hour

// IdempotencyStore is the KV-backed surface for idempotency entries, keyed
// by "tenant_id:key". It must degrade to an in-process fallback when the
// backing KV is unavailable.
type IdempotencyStore interface {
	// Begin registers a new entry in the processing state if none exists,
	// returning the existing entry (in whatever state it was found) when
	// one already does, so the caller can branch on status without a
	// separate Get round-trip.
	Begin(ctx context.Context, tenantID, key string) (entry *IdempotencyEntry, created bool, err error)

	// Complete transitions an entry to completed, caching the response body
	// and the recovery point reached.
	Complete(ctx context.Context, tenantID, key string, response []byte, point RecoveryPoint) error

	// Fail transitions an entry to failed so a subsequent Begin call for the
	// same key clears it and starts over.
	Fail(ctx context.Context, tenantID, key string) error

	// Clear deletes an entry outright, letting a fresh attempt start from
	// scratch after a failed one was found.
	Clear(ctx context.Context, tenantID, key string) error

	// Get retrieves an entry without mutating it.
	//
	// # Possible errors
	//
	//  - NotFound: no entry exists for tenantID:key.
	Get(ctx context.Context, tenantID, key string) (*IdempotencyEntry, error)
}
