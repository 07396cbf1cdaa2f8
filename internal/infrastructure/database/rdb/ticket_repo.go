package rdb

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ticketcore/scancore/internal/entity"
)

// TicketRepository implements entity.TicketRepository. Every method must
// run within a transaction opened by TxRunner.RunInTx, so the row-level
// current_tenant_id filter is already active.
type TicketRepository struct {
	db *Database
}

var _ entity.TicketRepository = (*TicketRepository)(nil)

// NewTicketRepository creates a new ticket repository instance.
func NewTicketRepository(db *Database) *TicketRepository {
	return &TicketRepository{db: db}
}

const (
	getTicketQuery = `
		SELECT id, tenant_id, event_id, venue_id, status, access_level, qr_hmac_secret,
		       valid_from, valid_until, scan_count, last_scanned_at, mint_address, mint_tx_id, successor_ticket_id
		FROM tickets
		WHERE id = $1
	`

	incrementScanQuery = `
		UPDATE tickets SET scan_count = scan_count + 1, last_scanned_at = $2
		WHERE id = $1
	`

	updateMintQuery = `
		UPDATE tickets SET status = $2, mint_address = $3, mint_tx_id = $4
		WHERE id = $1
	`

	listByEventStatusQuery = `
		SELECT id, tenant_id, event_id, venue_id, status, access_level, qr_hmac_secret,
		       valid_from, valid_until, scan_count, last_scanned_at, mint_address, mint_tx_id, successor_ticket_id
		FROM tickets
		WHERE event_id = $1 AND status = ANY($2)
	`

	lastAllowScanQuery = `
		SELECT id, ticket_id, device_id, tenant_id, result, reason, scanned_at
		FROM scan_events
		WHERE ticket_id = $1 AND result = $2 AND scanned_at >= $3
		ORDER BY scanned_at DESC
		LIMIT 1
	`
)

// Get retrieves a ticket by ID, scoped to the tenant set on ctx's transaction.
//
// # Possible errors
//
//   - NotFound: ticket does not exist, or belongs to a different tenant.
func (r *TicketRepository) Get(ctx context.Context, id string) (*entity.Ticket, error) {
	row := querierFrom(ctx, r.db).QueryRow(ctx, getTicketQuery, id)

	var t entity.Ticket
	err := row.Scan(&t.ID, &t.TenantID, &t.EventID, &t.VenueID, &t.Status, &t.AccessLevel, &t.QRHMACSecret,
		&t.ValidFrom, &t.ValidUntil, &t.ScanCount, &t.LastScannedAt, &t.MintAddress, &t.MintTxID, &t.SuccessorTicketID)
	if err != nil {
		return nil, toAppErr(err, "failed to get ticket")
	}
	return &t, nil
}

// IncrementScan atomically bumps scan_count and last_scanned_at for an ALLOW decision.
func (r *TicketRepository) IncrementScan(ctx context.Context, id string, scannedAt time.Time) error {
	tag, err := querierFrom(ctx, r.db).Exec(ctx, incrementScanQuery, id, scannedAt)
	if err != nil {
		return toAppErr(err, "failed to increment scan count")
	}
	return errRowsAffected(tag, "ticket")
}

// UpdateMint records a confirmed on-chain mint against a ticket.
func (r *TicketRepository) UpdateMint(ctx context.Context, id, mintAddress, mintTxID string) error {
	tag, err := querierFrom(ctx, r.db).Exec(ctx, updateMintQuery, id, entity.TicketStatusMinted, mintAddress, mintTxID)
	if err != nil {
		return toAppErr(err, "failed to update ticket mint state")
	}
	return errRowsAffected(tag, "ticket")
}

// ListByEventStatus returns tickets for an event matching any of the given
// statuses, used by the Offline Manifest Builder.
func (r *TicketRepository) ListByEventStatus(ctx context.Context, eventID string, statuses []entity.TicketStatus) ([]*entity.Ticket, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	rows, err := querierFrom(ctx, r.db).Query(ctx, listByEventStatusQuery, eventID, names)
	if err != nil {
		return nil, toAppErr(err, "failed to list tickets by event status")
	}
	defer rows.Close()

	var tickets []*entity.Ticket
	for rows.Next() {
		var t entity.Ticket
		if err := rows.Scan(&t.ID, &t.TenantID, &t.EventID, &t.VenueID, &t.Status, &t.AccessLevel, &t.QRHMACSecret,
			&t.ValidFrom, &t.ValidUntil, &t.ScanCount, &t.LastScannedAt, &t.MintAddress, &t.MintTxID, &t.SuccessorTicketID); err != nil {
			return nil, toAppErr(err, "failed to scan ticket row")
		}
		tickets = append(tickets, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, toAppErr(err, "failed to iterate ticket rows")
	}
	return tickets, nil
}

// LastAllowScan returns the most recent ALLOW scan event for the ticket
// within the lookback window, or nil if none exists.
func (r *TicketRepository) LastAllowScan(ctx context.Context, ticketID string, since time.Time) (*entity.ScanEvent, error) {
	row := querierFrom(ctx, r.db).QueryRow(ctx, lastAllowScanQuery, ticketID, entity.ScanResultAllow, since)

	var ev entity.ScanEvent
	err := row.Scan(&ev.ID, &ev.TicketID, &ev.DeviceID, &ev.TenantID, &ev.Result, &ev.Reason, &ev.ScannedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, toAppErr(err, "failed to get last allow scan")
	}
	return &ev, nil
}
