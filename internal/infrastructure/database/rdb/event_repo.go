package rdb

import (
	"context"

	"github.com/ticketcore/scancore/internal/entity"
)

// EventRepository implements entity.EventRepository.
type EventRepository struct {
	db *Database
}

var _ entity.EventRepository = (*EventRepository)(nil)

// NewEventRepository creates a new event repository instance.
func NewEventRepository(db *Database) *EventRepository {
	return &EventRepository{db: db}
}

const (
	getEventQuery = `
		SELECT id, tenant_id, venue_id, start_time, end_time
		FROM events
		WHERE id = $1
	`

	upsertEventQuery = `
		INSERT INTO events (id, tenant_id, venue_id, start_time, end_time)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			tenant_id = EXCLUDED.tenant_id,
			venue_id = EXCLUDED.venue_id,
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time
	`
)

// Get retrieves an event by ID, scoped to the tenant set on ctx's transaction.
//
// # Possible errors
//
//   - NotFound: event does not exist, or belongs to a different tenant.
func (r *EventRepository) Get(ctx context.Context, id string) (*entity.Event, error) {
	row := querierFrom(ctx, r.db).QueryRow(ctx, getEventQuery, id)

	var e entity.Event
	if err := row.Scan(&e.ID, &e.TenantID, &e.VenueID, &e.StartTime, &e.EndTime); err != nil {
		return nil, toAppErr(err, "failed to get event")
	}
	return &e, nil
}

// Upsert creates or replaces the event row, used by the Sync Consumer when
// it materializes an event-created message.
func (r *EventRepository) Upsert(ctx context.Context, e *entity.Event) error {
	_, err := querierFrom(ctx, r.db).Exec(ctx, upsertEventQuery, e.ID, e.TenantID, e.VenueID, e.StartTime, e.EndTime)
	if err != nil {
		return toAppErr(err, "failed to upsert event")
	}
	return nil
}
