package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ticketcore/scancore/internal/entity"
)

func TestManifestUseCase_GenerateAndValidateRoundTrip(t *testing.T) {
	w := newFakeWorld()
	now := time.Now()
	w.events["E1"] = baseEvent("E1", "tenant-a", "V1", now)
	w.devices["D1"] = baseDevice("D1", "tenant-a", "V1")
	w.tickets["T1"] = baseTicket("T1", "tenant-a", "E1", "V1")
	reserved := baseTicket("T2", "tenant-a", "E1", "V1")
	reserved.Status = entity.TicketStatusReserved
	w.tickets["T2"] = reserved

	uc := NewManifestUseCase(fakeTicketRepo{w}, fakeEventRepo{w}, fakeDeviceRepo{w}, []byte(testHMACSecret), testLogger(t))

	manifest, err := uc.Generate(context.Background(), "E1", "D1")
	require.NoError(t, err)
	require.Equal(t, "E1", manifest.EventID)
	require.Equal(t, "D1", manifest.DeviceID)
	require.Equal(t, now.Add(entity.ManifestTTL).Unix(), manifest.ExpiresAt.Unix())

	// Only SOLD/MINTED tickets are included; the RESERVED one is excluded.
	require.Len(t, manifest.Entries, 1)
	entry, ok := manifest.Entries["T1"]
	require.True(t, ok)

	valid, err := uc.Validate(context.Background(), "T1", "E1", entry.OfflineToken)
	require.NoError(t, err)
	require.True(t, valid)

	// Tamper with a single hex character: validation must fail.
	tampered := []byte(entry.OfflineToken)
	if tampered[0] == 'a' {
		tampered[0] = 'b'
	} else {
		tampered[0] = 'a'
	}
	valid, err = uc.Validate(context.Background(), "T1", "E1", string(tampered))
	require.NoError(t, err)
	require.False(t, valid)

	// A token computed for a different ticket never validates against T1.
	valid, err = uc.Validate(context.Background(), "T1", "E1", uc.offlineToken("T2", "E1"))
	require.NoError(t, err)
	require.False(t, valid)

	// The expiry gate the offline-sync ingestion path checks before Validate.
	require.False(t, manifest.Expired(now.Add(entity.ManifestTTL-time.Minute)))
	require.True(t, manifest.Expired(now.Add(entity.ManifestTTL+time.Minute)))
}

func TestManifestUseCase_RevokedDeviceFailsClosed(t *testing.T) {
	w := newFakeWorld()
	now := time.Now()
	w.events["E1"] = baseEvent("E1", "tenant-a", "V1", now)
	revoked := baseDevice("D1", "tenant-a", "V1")
	ts := now.Add(-time.Hour)
	revoked.RevokedAt = &ts
	w.devices["D1"] = revoked

	uc := NewManifestUseCase(fakeTicketRepo{w}, fakeEventRepo{w}, fakeDeviceRepo{w}, []byte(testHMACSecret), testLogger(t))

	_, err := uc.Generate(context.Background(), "E1", "D1")
	require.Error(t, err)
}

func TestManifestUseCase_MissingEventOrDeviceIsError(t *testing.T) {
	w := newFakeWorld()
	uc := NewManifestUseCase(fakeTicketRepo{w}, fakeEventRepo{w}, fakeDeviceRepo{w}, []byte(testHMACSecret), testLogger(t))

	_, err := uc.Generate(context.Background(), "", "D1")
	require.Error(t, err)

	w.devices["D1"] = baseDevice("D1", "tenant-a", "V1")
	_, err = uc.Generate(context.Background(), "missing-event", "D1")
	require.Error(t, err)
}
