package rdb

import (
	"context"
	"time"

	"github.com/ticketcore/scancore/internal/entity"
)

// ScanEventRepository implements entity.ScanEventRepository. Insert runs
// as part of the same transaction that read and, on ALLOW, updated the
// ticket — callers must invoke it with the tx-bearing ctx from
// TxRunner.RunInTx.
type ScanEventRepository struct {
	db *Database
}

var _ entity.ScanEventRepository = (*ScanEventRepository)(nil)

// NewScanEventRepository builds a ScanEventRepository over db.
func NewScanEventRepository(db *Database) *ScanEventRepository {
	return &ScanEventRepository{db: db}
}

const insertScanEventQuery = `
	INSERT INTO scan_events (id, ticket_id, device_id, tenant_id, result, reason, scanned_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
`

// Insert appends a scan event row.
func (r *ScanEventRepository) Insert(ctx context.Context, ev *entity.ScanEvent) error {
	_, err := querierFrom(ctx, r.db).Exec(ctx, insertScanEventQuery,
		ev.ID, ev.TicketID, ev.DeviceID, ev.TenantID, ev.Result, ev.Reason, ev.ScannedAt)
	if err != nil {
		return toAppErr(err, "failed to insert scan event")
	}
	return nil
}

const recentForTicketQuery = `
	SELECT id, ticket_id, device_id, tenant_id, result, reason, scanned_at
	FROM scan_events
	WHERE ticket_id = $1 AND scanned_at >= $2
	ORDER BY scanned_at DESC
`

const recentForDeviceQuery = `
	SELECT id, ticket_id, device_id, tenant_id, result, reason, scanned_at
	FROM scan_events
	WHERE device_id = $1 AND scanned_at >= $2
	ORDER BY scanned_at DESC
`

// RecentForTicket returns scan events for a ticket since the given time.
// Called within the anomaly detector's own tenant-scoped transaction.
func (r *ScanEventRepository) RecentForTicket(ctx context.Context, ticketID string, since time.Time) ([]*entity.ScanEvent, error) {
	return r.queryRecent(ctx, recentForTicketQuery, ticketID, since)
}

// RecentForDevice returns scan events for a device since the given time.
func (r *ScanEventRepository) RecentForDevice(ctx context.Context, deviceID string, since time.Time) ([]*entity.ScanEvent, error) {
	return r.queryRecent(ctx, recentForDeviceQuery, deviceID, since)
}

func (r *ScanEventRepository) queryRecent(ctx context.Context, query string, arg0 string, since time.Time) ([]*entity.ScanEvent, error) {
	rows, err := querierFrom(ctx, r.db).Query(ctx, query, arg0, since)
	if err != nil {
		return nil, toAppErr(err, "failed to query scan events")
	}
	defer rows.Close()

	var events []*entity.ScanEvent
	for rows.Next() {
		var ev entity.ScanEvent
		if err := rows.Scan(&ev.ID, &ev.TicketID, &ev.DeviceID, &ev.TenantID, &ev.Result, &ev.Reason, &ev.ScannedAt); err != nil {
			return nil, toAppErr(err, "failed to scan scan_event row")
		}
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, toAppErr(err, "failed to iterate scan_event rows")
	}
	return events, nil
}

// SecurityEventRepository implements entity.SecurityEventRepository,
// persisting cross-tenant and other suspicious-access audit rows outside
// the tenant-scoped transaction (a tenant-A device's attempt to reach a
// tenant-B resource has no valid tenant context to run under).
type SecurityEventRepository struct {
	db *Database
}

var _ entity.SecurityEventRepository = (*SecurityEventRepository)(nil)

// NewSecurityEventRepository builds a SecurityEventRepository over db.
func NewSecurityEventRepository(db *Database) *SecurityEventRepository {
	return &SecurityEventRepository{db: db}
}

const insertSecurityEventQuery = `
	INSERT INTO security_events (id, tenant_id, device_id, kind, detail, occurred_at)
	VALUES ($1, $2, $3, $4, $5, $6)
`

// Insert persists a SecurityEvent row.
func (r *SecurityEventRepository) Insert(ctx context.Context, ev *entity.SecurityEvent) error {
	_, err := r.db.Pool.Exec(ctx, insertSecurityEventQuery, ev.ID, ev.TenantID, ev.DeviceID, ev.Kind, ev.Detail, ev.OccurredAt)
	if err != nil {
		return toAppErr(err, "failed to insert security event")
	}
	return nil
}
