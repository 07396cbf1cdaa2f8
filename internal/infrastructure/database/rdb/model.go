package rdb

import (
	"time"

	"github.com/ticketcore/scancore/internal/entity"
	"github.com/uptrace/bun"
)

// Ticket represents the database model for the tickets table.
type Ticket struct {
	bun.BaseModel `bun:"table:tickets,alias:t"`

	ID            string     `bun:",pk,type:uuid"`
	TenantID      string     `bun:",notnull,type:uuid"`
	EventID       string     `bun:",notnull,type:uuid"`
	VenueID       string     `bun:",notnull,type:uuid"`
	Status        string     `bun:",notnull,type:varchar(20)"`
	AccessLevel   string     `bun:",notnull,type:varchar(20)"`
	QRHMACSecret  []byte     `bun:"qr_hmac_secret,notnull,type:bytea"`
	ValidFrom     *time.Time `bun:",nullzero"`
	ValidUntil    *time.Time `bun:",nullzero"`
	ScanCount     int        `bun:",notnull,default:0"`
	LastScannedAt *time.Time `bun:",nullzero"`
	MintAddress   *string    `bun:",nullzero,type:varchar(64)"`
	MintTxID      *string    `bun:",nullzero,type:varchar(128)"`
	SuccessorID   *string    `bun:"successor_ticket_id,nullzero,type:uuid"`
}

// ToEntity converts the database model to the domain entity.
func (t *Ticket) ToEntity() *entity.Ticket {
	return &entity.Ticket{
		ID:                t.ID,
		TenantID:          t.TenantID,
		EventID:           t.EventID,
		VenueID:           t.VenueID,
		Status:            entity.TicketStatus(t.Status),
		AccessLevel:       entity.AccessLevel(t.AccessLevel),
		QRHMACSecret:      t.QRHMACSecret,
		ValidFrom:         t.ValidFrom,
		ValidUntil:        t.ValidUntil,
		ScanCount:         t.ScanCount,
		LastScannedAt:     t.LastScannedAt,
		MintAddress:       t.MintAddress,
		MintTxID:          t.MintTxID,
		SuccessorTicketID: t.SuccessorID,
	}
}

// Device represents the database model for the devices table.
type Device struct {
	bun.BaseModel `bun:"table:devices,alias:d"`

	DeviceID       string     `bun:"device_id,pk,type:uuid"`
	TenantID       string     `bun:",notnull,type:uuid"`
	VenueID        string     `bun:",notnull,type:uuid"`
	Zone           string     `bun:",notnull,type:varchar(20)"`
	IsActive       bool       `bun:",notnull,default:true"`
	CanScanOffline bool       `bun:",notnull,default:false"`
	LastSyncAt     *time.Time `bun:",nullzero"`
	RevokedAt      *time.Time `bun:",nullzero"`
}

// ToEntity converts the database model to the domain entity.
func (d *Device) ToEntity() *entity.Device {
	return &entity.Device{
		DeviceID:       d.DeviceID,
		TenantID:       d.TenantID,
		VenueID:        d.VenueID,
		Zone:           entity.Zone(d.Zone),
		IsActive:       d.IsActive,
		CanScanOffline: d.CanScanOffline,
		LastSyncAt:     d.LastSyncAt,
		RevokedAt:      d.RevokedAt,
	}
}

// CustodialWallet represents the database model for the custodial_wallets table.
type CustodialWallet struct {
	bun.BaseModel `bun:"table:custodial_wallets,alias:w"`

	ID         string `bun:",pk,type:uuid"`
	UserID     string `bun:",notnull,type:uuid"`
	TenantID   string `bun:",notnull,type:uuid"`
	Address    string `bun:",notnull,unique,type:varchar(64)"`
	Status     string `bun:",notnull,type:varchar(20)"`
	KMSKeyID   string `bun:"kms_key_id,notnull,type:varchar(255)"`
	KeyVersion int    `bun:",notnull,default:1"`
}

// ToEntity converts the database model to the domain entity.
func (w *CustodialWallet) ToEntity() *entity.CustodialWallet {
	return &entity.CustodialWallet{
		ID:         w.ID,
		UserID:     w.UserID,
		TenantID:   w.TenantID,
		Address:    w.Address,
		Status:     entity.WalletStatus(w.Status),
		KMSKeyID:   w.KMSKeyID,
		KeyVersion: w.KeyVersion,
	}
}

// BlockchainTransaction represents the database model for the
// blockchain_transactions table.
type BlockchainTransaction struct {
	bun.BaseModel `bun:"table:blockchain_transactions,alias:bt"`

	TicketID    string  `bun:"ticket_id,pk,type:uuid"`
	TenantID    string  `bun:",pk,type:uuid"`
	Type        string  `bun:",pk,type:varchar(20)"`
	Status      string  `bun:",notnull,type:varchar(20)"`
	Signature   *string `bun:",nullzero,type:varchar(128)"`
	MintAddress *string `bun:",nullzero,type:varchar(64)"`
	SlotNumber  uint64  `bun:",notnull,default:0"`
}

// ToEntity converts the database model to the domain entity.
func (b *BlockchainTransaction) ToEntity() *entity.BlockchainTransaction {
	return &entity.BlockchainTransaction{
		TicketID:    b.TicketID,
		TenantID:    b.TenantID,
		Type:        entity.BlockchainTxType(b.Type),
		Status:      entity.BlockchainTxStatus(b.Status),
		Signature:   b.Signature,
		MintAddress: b.MintAddress,
		SlotNumber:  b.SlotNumber,
	}
}
