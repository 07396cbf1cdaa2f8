package usecase

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pannpers/go-apperr/apperr"
	"github.com/pannpers/go-logging/logging"

	"github.com/ticketcore/scancore/internal/entity"
	"github.com/ticketcore/scancore/internal/infrastructure/kv"
	"github.com/ticketcore/scancore/internal/infrastructure/telemetry"
)

// QRRotationWindow is how long a generated QR payload remains acceptable.
const QRRotationWindow = 30 * time.Second

// nonceTTLSlack is added on top of the rotation window before a claimed
// nonce is allowed to expire from the replay set.
const nonceTTLSlack = 30 * time.Second

// DefaultDuplicateWindowMinutes mirrors the rdb package's fallback so
// callers that bypass the policy repository (tests, dry runs) see the same
// default.
const DefaultDuplicateWindowMinutes = 10

// ScanUseCase defines the Scan Decider's public contract.
type ScanUseCase interface {
	// Decide validates a single scan attempt end to end: QR verification,
	// tenant/venue isolation, ticket-state and temporal checks, zone and
	// duplicate/re-entry policy, and persistence of the resulting scan
	// event. It never returns ALLOW without having durably recorded it.
	Decide(ctx context.Context, params *DecideParams) (*DecideResult, error)
}

// DecideParams are the inputs to a scan decision.
type DecideParams struct {
	QRPayload string
	DeviceID  string
	Staff     *entity.StaffContext // nil for unattended device scans
}

// DecideResult mirrors the POST /scan response shape.
type DecideResult struct {
	Result           entity.ScanResult
	Reason           entity.ScanReason
	TicketID         string
	TenantID         string
	SuccessorTicket  string
	ScanCount        int
	MinutesRemaining int
}

type scanUseCase struct {
	tickets  entity.TicketRepository
	devices  entity.DeviceRepository
	scans    entity.ScanEventRepository
	security entity.SecurityEventRepository
	policies entity.PolicyRepository
	events   entity.EventRepository
	nonces   *kv.NonceStore
	txRunner entity.TxRunner
	logger   *logging.Logger
}

var _ ScanUseCase = (*scanUseCase)(nil)

// NewScanUseCase builds a ScanUseCase.
func NewScanUseCase(
	tickets entity.TicketRepository,
	devices entity.DeviceRepository,
	scans entity.ScanEventRepository,
	security entity.SecurityEventRepository,
	policies entity.PolicyRepository,
	events entity.EventRepository,
	nonces *kv.NonceStore,
	txRunner entity.TxRunner,
	logger *logging.Logger,
) ScanUseCase {
	return &scanUseCase{
		tickets:  tickets,
		devices:  devices,
		scans:    scans,
		security: security,
		policies: policies,
		events:   events,
		nonces:   nonces,
		txRunner: txRunner,
		logger:   logger,
	}
}

// qrPayload is the parsed form of "ticket_id:timestamp_ms:nonce:hex_hmac".
type qrPayload struct {
	ticketID     string
	timestampMs  int64
	nonce        string
	hexHMAC      string
	signedPrefix string // "ticket_id:timestamp_ms:nonce", the HMAC input
}

func parseQRPayload(raw string) (*qrPayload, bool) {
	parts := strings.Split(raw, ":")
	if len(parts) != 4 {
		return nil, false
	}
	ts, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil, false
	}
	return &qrPayload{
		ticketID:     parts[0],
		timestampMs:  ts,
		nonce:        parts[2],
		hexHMAC:      parts[3],
		signedPrefix: parts[0] + ":" + parts[1] + ":" + parts[2],
	}, true
}

// Decide implements ScanUseCase.
func (uc *scanUseCase) Decide(ctx context.Context, params *DecideParams) (*DecideResult, error) {
	// The device row is fetched up front, before any QR validity rule
	// runs, purely so the pre-tenant deny paths below (bad payload,
	// expired or replayed QR) can still persist a tenant-scoped scan
	// event. Reason precedence is unchanged: QR validity outranks device
	// authorization, so an expired QR on a revoked device reads QR_EXPIRED.
	device, devErr := uc.devices.Get(ctx, params.DeviceID)
	if devErr != nil {
		device = nil
	}

	payload, ok := parseQRPayload(params.QRPayload)
	if !ok {
		return uc.denyUnscoped(ctx, device, params.DeviceID, "", entity.ReasonSystemError)
	}

	now := time.Now()
	if age := now.Sub(time.UnixMilli(payload.timestampMs)); age > QRRotationWindow || age < -QRRotationWindow {
		return uc.denyUnscoped(ctx, device, params.DeviceID, payload.ticketID, entity.ReasonQRExpired)
	}

	claimed, err := uc.nonces.Claim(ctx, payload.nonce, QRRotationWindow+nonceTTLSlack)
	if err != nil {
		uc.logger.Error(ctx, "nonce claim failed", err, slog.String("ticket_id", payload.ticketID))
		return uc.denyUnscoped(ctx, device, params.DeviceID, payload.ticketID, entity.ReasonSystemError)
	}
	if !claimed {
		return uc.denyUnscoped(ctx, device, params.DeviceID, payload.ticketID, entity.ReasonQRAlreadyUsed)
	}

	if device == nil || !device.IsActive {
		return uc.denyUnscoped(ctx, device, params.DeviceID, payload.ticketID, entity.ReasonUnauthorizedDevice)
	}

	if params.Staff != nil && params.Staff.TenantID != device.TenantID {
		uc.logger.Error(ctx, "cross-tenant staff/device mismatch", nil,
			slog.String("device_id", device.DeviceID),
			slog.String("staff_tenant", params.Staff.TenantID),
			slog.String("device_tenant", device.TenantID),
		)
		return uc.denyUnscoped(ctx, device, params.DeviceID, payload.ticketID, entity.ReasonUnauthorized)
	}
	if params.Staff != nil && params.Staff.Role == entity.StaffRoleStaff && params.Staff.VenueID != device.VenueID {
		return uc.denyUnscoped(ctx, device, params.DeviceID, payload.ticketID, entity.ReasonVenueMismatch)
	}

	var result *DecideResult
	err = uc.txRunner.RunInTx(ctx, device.TenantID, func(ctx context.Context) error {
		r, txErr := uc.decideWithinTenant(ctx, payload, device, now)
		if txErr != nil {
			return txErr
		}
		result = r
		return nil
	})
	if err != nil {
		uc.logger.Error(ctx, "scan decision transaction failed", err, slog.String("ticket_id", payload.ticketID))
		uc.insertBestEffortErrorEvent(ctx, device, payload.ticketID)
		return &DecideResult{Result: entity.ScanResultError, Reason: entity.ReasonSystemError, TicketID: payload.ticketID, TenantID: device.TenantID}, nil
	}
	return result, nil
}

// decideWithinTenant runs every check that requires tenant-scoped reads,
// inside the caller's transaction. The HMAC check is deliberately done here
// (after the ticket row, scoped to this tenant, is loaded) since it needs
// the ticket's own secret.
func (uc *scanUseCase) decideWithinTenant(ctx context.Context, payload *qrPayload, device *entity.Device, now time.Time) (*DecideResult, error) {
	ticket, err := uc.tickets.Get(ctx, payload.ticketID)
	if err != nil {
		if errIsNotFound(err) {
			uc.logger.Error(ctx, "ticket not found or cross-tenant", err,
				slog.String("ticket_id", payload.ticketID), slog.String("tenant_id", device.TenantID))
			return uc.deny(ctx, device, payload.ticketID, entity.ReasonTicketNotFound)
		}
		return nil, err
	}

	if !constantTimeHMACEqual(ticket.QRHMACSecret, payload.signedPrefix, payload.hexHMAC) {
		return uc.deny(ctx, device, ticket.ID, entity.ReasonInvalidQR)
	}

	if ticket.VenueID != device.VenueID {
		return uc.deny(ctx, device, ticket.ID, entity.ReasonWrongVenue)
	}

	switch ticket.Status {
	case entity.TicketStatusRefunded:
		return uc.deny(ctx, device, ticket.ID, entity.ReasonTicketRefunded)
	case entity.TicketStatusCancelled:
		return uc.deny(ctx, device, ticket.ID, entity.ReasonTicketCancelled)
	case entity.TicketStatusTransferred:
		r, dErr := uc.deny(ctx, device, ticket.ID, entity.ReasonTicketTransferred)
		if dErr == nil && ticket.SuccessorTicketID != nil {
			r.SuccessorTicket = *ticket.SuccessorTicketID
		}
		return r, dErr
	case entity.TicketStatusSold, entity.TicketStatusMinted:
		// proceed
	default:
		return uc.deny(ctx, device, ticket.ID, entity.ReasonInvalidStatus)
	}

	event, err := uc.events.Get(ctx, ticket.EventID)
	if err != nil {
		return nil, err
	}
	if event.StartTime.After(now) {
		return uc.deny(ctx, device, ticket.ID, entity.ReasonEventNotStarted)
	}
	if event.EndTime.Before(now) {
		return uc.deny(ctx, device, ticket.ID, entity.ReasonEventEnded)
	}
	if ticket.ValidFrom != nil && ticket.ValidFrom.After(now) {
		return uc.deny(ctx, device, ticket.ID, entity.ReasonTicketNotYetValid)
	}
	if ticket.ValidUntil != nil && ticket.ValidUntil.Before(now) {
		return uc.deny(ctx, device, ticket.ID, entity.ReasonTicketExpired)
	}

	if !zoneAllows(ticket.AccessLevel, device.Zone) {
		return uc.deny(ctx, device, ticket.ID, entity.ReasonWrongZone)
	}

	policy, err := uc.policies.DuplicatePolicyFor(ctx, ticket.EventID)
	if err != nil {
		return nil, err
	}
	windowMinutes := policy.WindowMinutes
	if windowMinutes < 1 || windowMinutes > 1440 {
		windowMinutes = DefaultDuplicateWindowMinutes
	}
	since := now.Add(-time.Duration(windowMinutes) * time.Minute)

	prior, err := uc.tickets.LastAllowScan(ctx, ticket.ID, since)
	if err != nil {
		return nil, err
	}
	if prior == nil {
		return uc.allow(ctx, device, ticket, now)
	}

	reentry, err := uc.policies.ReentryPolicyFor(ctx, ticket.EventID)
	if err != nil {
		return nil, err
	}
	if reentry == nil {
		return uc.deny(ctx, device, ticket.ID, entity.ReasonNoReentry)
	}
	if !reentry.Enabled {
		return uc.deny(ctx, device, ticket.ID, entity.ReasonReentryDisabled)
	}
	if ticket.ScanCount >= reentry.MaxReentries {
		return uc.deny(ctx, device, ticket.ID, entity.ReasonMaxReentriesReached)
	}
	cooldown := time.Duration(reentry.CooldownMinutes) * time.Minute
	if ticket.LastScannedAt != nil {
		if elapsed := now.Sub(*ticket.LastScannedAt); elapsed < cooldown {
			remaining := cooldown - elapsed
			r, dErr := uc.deny(ctx, device, ticket.ID, entity.ReasonCooldownActive)
			if dErr == nil {
				r.MinutesRemaining = int(remaining.Minutes()) + 1
			}
			return r, dErr
		}
	}
	return uc.allow(ctx, device, ticket, now)
}

func (uc *scanUseCase) allow(ctx context.Context, device *entity.Device, ticket *entity.Ticket, now time.Time) (*DecideResult, error) {
	if err := uc.tickets.IncrementScan(ctx, ticket.ID, now); err != nil {
		return nil, err
	}
	if err := uc.scans.Insert(ctx, &entity.ScanEvent{
		ID:        scanEventID(),
		TicketID:  ticket.ID,
		DeviceID:  device.DeviceID,
		TenantID:  device.TenantID,
		Result:    entity.ScanResultAllow,
		Reason:    entity.ReasonAllowed,
		ScannedAt: now,
	}); err != nil {
		return nil, err
	}
	telemetry.ScanDecisionsTotal.WithLabelValues(string(entity.ScanResultAllow), string(entity.ReasonAllowed)).Inc()
	return &DecideResult{
		Result:    entity.ScanResultAllow,
		Reason:    entity.ReasonAllowed,
		TicketID:  ticket.ID,
		TenantID:  device.TenantID,
		ScanCount: ticket.ScanCount + 1,
	}, nil
}

func (uc *scanUseCase) deny(ctx context.Context, device *entity.Device, ticketID string, reason entity.ScanReason) (*DecideResult, error) {
	ev := &entity.ScanEvent{
		ID:        scanEventID(),
		TicketID:  ticketID,
		DeviceID:  device.DeviceID,
		TenantID:  device.TenantID,
		Result:    entity.ScanResultDeny,
		Reason:    reason,
		ScannedAt: time.Now(),
	}
	if err := uc.scans.Insert(ctx, ev); err != nil {
		return nil, err
	}
	telemetry.ScanDecisionsTotal.WithLabelValues(string(entity.ScanResultDeny), string(reason)).Inc()
	return &DecideResult{Result: entity.ScanResultDeny, Reason: reason, TicketID: ticketID, TenantID: device.TenantID}, nil
}

// denyUnscoped handles deny paths reached before the main tenant-scoped
// transaction starts (bad payload, expired/replayed QR, unauthorized
// device). When the device row resolved, the scan event is still
// persisted under its tenant in a short transaction of its own; when it
// didn't (unknown device), there is no tenant to attribute the row to and
// the denial is logged only.
func (uc *scanUseCase) denyUnscoped(ctx context.Context, device *entity.Device, deviceID, ticketID string, reason entity.ScanReason) (*DecideResult, error) {
	result := entity.ScanResultDeny
	if reason == entity.ReasonSystemError {
		result = entity.ScanResultError
	}
	uc.logger.Warn(ctx, "scan denied before tenant context resolved",
		slog.String("device_id", deviceID), slog.String("reason", string(reason)))

	// A parse failure yields no ticket id at all; with nothing meaningful
	// to attribute the row to, the denial is log-only.
	if device == nil || ticketID == "" {
		return &DecideResult{Result: result, Reason: reason, TicketID: ticketID}, nil
	}

	ev := &entity.ScanEvent{
		ID:        scanEventID(),
		TicketID:  ticketID,
		DeviceID:  device.DeviceID,
		TenantID:  device.TenantID,
		Result:    result,
		Reason:    reason,
		ScannedAt: time.Now(),
	}
	err := uc.txRunner.RunInTx(ctx, device.TenantID, func(ctx context.Context) error {
		return uc.scans.Insert(ctx, ev)
	})
	if err != nil {
		uc.logger.Error(ctx, "failed to persist unscoped scan denial", err, slog.String("device_id", deviceID))
	}
	return &DecideResult{Result: result, Reason: reason, TicketID: ticketID, TenantID: device.TenantID}, nil
}

func (uc *scanUseCase) insertBestEffortErrorEvent(ctx context.Context, device *entity.Device, ticketID string) {
	if device == nil {
		return
	}
	if err := uc.security.Insert(ctx, &entity.SecurityEvent{
		ID:         scanEventID(),
		TenantID:   device.TenantID,
		DeviceID:   device.DeviceID,
		Kind:       "scan_system_error",
		Detail:     "ticket=" + ticketID,
		OccurredAt: time.Now(),
	}); err != nil {
		uc.logger.Error(ctx, "failed to record best-effort security event", err)
	}
}

func zoneAllows(access entity.AccessLevel, zone entity.Zone) bool {
	switch access {
	case entity.AccessLevelAll:
		return true
	case entity.AccessLevelBackstage:
		return zone == entity.ZoneBackstage
	case entity.AccessLevelVIP:
		return zone == entity.ZoneVIP || zone == entity.ZoneGA
	case entity.AccessLevelGA:
		return zone == entity.ZoneGA
	default:
		return zone == entity.ZoneGA
	}
}

func constantTimeHMACEqual(secret []byte, message, hexMAC string) bool {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(message))
	expected := mac.Sum(nil)
	got, err := hex.DecodeString(hexMAC)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, got)
}

func errIsNotFound(err error) bool {
	return errors.Is(err, apperr.ErrNotFound)
}

// scanEventID generates an identifier for a new scan/security event row.
func scanEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
