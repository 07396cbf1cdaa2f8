package usecase

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/pannpers/go-apperr/apperr"
	"github.com/pannpers/go-apperr/apperr/codes"
	"github.com/pannpers/go-logging/logging"

	"github.com/ticketcore/scancore/internal/entity"
)

// ManifestUseCase implements entity.ManifestBuilder against the platform's
// global offline-signing secret.
type ManifestUseCase struct {
	tickets entity.TicketRepository
	events  entity.EventRepository
	devices entity.DeviceRepository
	secret  []byte
	logger  *logging.Logger
}

var _ entity.ManifestBuilder = (*ManifestUseCase)(nil)

// NewManifestUseCase builds a ManifestUseCase. secret is the global
// HMAC_SECRET used to derive offline tokens, distinct from any per-ticket
// qr_hmac_secret.
func NewManifestUseCase(tickets entity.TicketRepository, events entity.EventRepository, devices entity.DeviceRepository, secret []byte, logger *logging.Logger) *ManifestUseCase {
	return &ManifestUseCase{tickets: tickets, events: events, devices: devices, secret: secret, logger: logger}
}

var manifestTicketStatuses = []entity.TicketStatus{entity.TicketStatusSold, entity.TicketStatusMinted}

// Generate implements entity.ManifestBuilder. A revoked device never
// receives new offline validation material: once revoked_at is set, Generate
// fails closed with not_found rather than handing out a manifest a revoked
// scanner could keep using until it re-syncs.
func (uc *ManifestUseCase) Generate(ctx context.Context, eventID, deviceID string) (*entity.OfflineManifest, error) {
	if eventID == "" || deviceID == "" {
		return nil, apperr.New(codes.InvalidArgument, "event_id and device_id are required")
	}

	device, err := uc.devices.Get(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if device.RevokedAt != nil {
		return nil, apperr.New(codes.NotFound, "device: no matching row")
	}

	if _, err := uc.events.Get(ctx, eventID); err != nil {
		return nil, err
	}

	tickets, err := uc.tickets.ListByEventStatus(ctx, eventID, manifestTicketStatuses)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	manifest := &entity.OfflineManifest{
		EventID:     eventID,
		DeviceID:    deviceID,
		GeneratedAt: now,
		ExpiresAt:   now.Add(entity.ManifestTTL),
		Entries:     make(map[string]entity.ManifestEntry, len(tickets)),
	}
	for _, t := range tickets {
		manifest.Entries[t.ID] = entity.ManifestEntry{
			AccessLevel:       t.AccessLevel,
			ScanCountSnapshot: t.ScanCount,
			OfflineToken:      uc.offlineToken(t.ID, eventID),
		}
	}
	return manifest, nil
}

// Validate implements entity.ManifestBuilder. It does not consult
// manifest expiry itself: the caller (the offline-sync ingestion path)
// already knows the manifest's expires_at and is expected to reject
// late submissions before calling Validate.
func (uc *ManifestUseCase) Validate(ctx context.Context, ticketID, eventID, submittedToken string) (bool, error) {
	expected := uc.offlineToken(ticketID, eventID)
	got, err := hex.DecodeString(submittedToken)
	if err != nil {
		return false, nil
	}
	want, err := hex.DecodeString(expected)
	if err != nil {
		return false, err
	}
	return hmac.Equal(want, got), nil
}

func (uc *ManifestUseCase) offlineToken(ticketID, eventID string) string {
	mac := hmac.New(sha256.New, uc.secret)
	mac.Write([]byte(ticketID + ":" + eventID + ":offline"))
	return hex.EncodeToString(mac.Sum(nil))
}
