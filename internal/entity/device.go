package entity

import (
	"context"
	"time"
)

// Zone is a physical or logical area a scanning device is assigned to.
type Zone string

const (
	ZoneGA        Zone = "GA"
	ZoneVIP       Zone = "VIP"
	ZoneBackstage Zone = "BACKSTAGE"
)

// Device is a registered scanner. Revocation is soft and permanent: a
// revoked device_id is never reactivated.
type Device struct {
	DeviceID       string
	TenantID       string
	VenueID        string
	Zone           Zone
	IsActive       bool
	CanScanOffline bool
	LastSyncAt     *time.Time
	RevokedAt      *time.Time
}

// StaffRole distinguishes the principal on whose behalf a scan is performed.
type StaffRole string

const (
	StaffRoleStaff  StaffRole = "staff"
	StaffRoleAdmin  StaffRole = "admin"
	StaffRoleDevice StaffRole = "device"
)

// StaffContext carries the authenticated principal attached to a scan
// request, when the scan was initiated by a logged-in staff member rather
// than an unattended device.
type StaffContext struct {
	Role     StaffRole
	TenantID string
	VenueID  string
}

// DeviceRepository is the tenant-isolated persistence surface for devices.
type DeviceRepository interface {
	// Get retrieves a device by ID.
	//
	// # Possible errors
	//
	//  - NotFound: device does not exist, or belongs to a different tenant.
	Get(ctx context.Context, deviceID string) (*Device, error)
}
