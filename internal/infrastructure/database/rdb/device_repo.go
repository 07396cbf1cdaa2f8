package rdb

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/ticketcore/scancore/internal/entity"
)

// DeviceRepository reads devices by their global ID. Device lookups are
// the one query in the scan path that runs before a tenant is known — the
// device row itself is what tells the caller which tenant to scope every
// subsequent query to — so this repository is never called through a
// TxRunner-scoped transaction.
type DeviceRepository struct {
	db *Database
}

var _ entity.DeviceRepository = (*DeviceRepository)(nil)

// NewDeviceRepository builds a DeviceRepository over db.
func NewDeviceRepository(db *Database) *DeviceRepository {
	return &DeviceRepository{db: db}
}

const getDeviceQuery = `
	SELECT device_id, tenant_id, venue_id, zone, is_active, can_scan_offline, last_sync_at, revoked_at
	FROM devices
	WHERE device_id = $1
`

// Get retrieves a device by ID.
//
// # Possible errors
//
//   - NotFound: device does not exist.
func (r *DeviceRepository) Get(ctx context.Context, deviceID string) (*entity.Device, error) {
	row := r.db.Pool.QueryRow(ctx, getDeviceQuery, deviceID)

	var d entity.Device
	err := row.Scan(&d.DeviceID, &d.TenantID, &d.VenueID, &d.Zone, &d.IsActive, &d.CanScanOffline, &d.LastSyncAt, &d.RevokedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, toAppErr(err, "device not found")
		}
		return nil, toAppErr(err, "failed to get device")
	}
	return &d, nil
}
