package entity

import (
	"context"
	"time"
)

// Event is the read-model the Scan Decider consults for temporal checks.
// Ownership of event/venue metadata lives outside this core; this is a
// projection maintained by the Sync Consumer from blockchain_sync_requested
// messages.
type Event struct {
	ID        string
	TenantID  string
	VenueID   string
	StartTime time.Time
	EndTime   time.Time
}

// Venue is referenced by ID only; no venue-specific behavior lives in this
// core beyond the ID match performed by the Scan Decider.
type Venue struct {
	ID       string
	TenantID string
}

// EventRepository provides read access to event projections and the write
// path the Sync Consumer uses when a blockchain_sync_requested message
// creates a new event.
type EventRepository interface {
	// Get retrieves an event by ID, scoped to tenant.
	//
	// # Possible errors
	//
	//  - NotFound: event does not exist, or belongs to a different tenant.
	Get(ctx context.Context, id string) (*Event, error)

	// Upsert creates or replaces the projection for an event, used by the
	// Sync Consumer on CREATE_EVENT messages.
	Upsert(ctx context.Context, ev *Event) error
}

// EventStatusCallback is the outbound collaborator the Sync Consumer
// notifies once processing a blockchain_sync_requested message reaches a
// terminal state. The HTTP transport backing this interface is external to
// this core; only the contract is owned here.
type EventStatusCallback interface {
	// ReportStatus PUTs /internal/events/{id}/blockchain-status with the
	// outcome of processing the message.
	ReportStatus(ctx context.Context, eventID string, status string, detail map[string]string) error
}
