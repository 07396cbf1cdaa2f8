package entity

import (
	"context"
	"time"
)

// ManifestEntry is one ticket's offline-validation material within a manifest.
type ManifestEntry struct {
	AccessLevel       AccessLevel
	ScanCountSnapshot int
	OfflineToken      string
}

// OfflineManifest is a time-boxed, device-scoped bundle letting a scanner
// validate tickets without a live connection to this core.
type OfflineManifest struct {
	EventID     string
	DeviceID    string
	GeneratedAt time.Time
	ExpiresAt   time.Time
	Entries     map[string]ManifestEntry // keyed by ticket_id
}

// ManifestTTL is how long a generated manifest remains valid offline.
const ManifestTTL = 4 * time.Hour

// Expired reports whether offline scans validated against this manifest
// must be rejected; the device is expected to re-sync first.
func (m *OfflineManifest) Expired(now time.Time) bool {
	return now.After(m.ExpiresAt)
}

// ManifestBuilder generates and validates offline manifests.
type ManifestBuilder interface {
	// Generate returns a manifest covering every SOLD/MINTED ticket for the event.
	Generate(ctx context.Context, eventID, deviceID string) (*OfflineManifest, error)

	// Validate reports whether submittedToken matches the token that would be
	// computed for (ticketID, eventID), in constant time.
	Validate(ctx context.Context, ticketID, eventID, submittedToken string) (bool, error)
}
