package entity

import (
	"context"
	"time"
)

// WalletStatus is the lifecycle of a custodial wallet.
type WalletStatus string

const (
	WalletActive    WalletStatus = "ACTIVE"
	WalletSuspended WalletStatus = "SUSPENDED"
	WalletLocked    WalletStatus = "LOCKED"
	WalletArchived  WalletStatus = "ARCHIVED"
)

// CanRecover reports whether a wallet in this status can return to ACTIVE.
func (s WalletStatus) CanRecover() bool {
	return s == WalletSuspended || s == WalletLocked
}

// CustodialWallet is a platform-held signing identity for a user, one per
// (user, tenant).
type CustodialWallet struct {
	ID         string
	UserID     string
	TenantID   string
	Address    string
	Status     WalletStatus
	KMSKeyID   string
	KeyVersion int
}

// WalletKey is the envelope-encrypted private key material for a wallet,
// 1:1 with CustodialWallet.
type WalletKey struct {
	WalletID         string
	EncryptedSecret  []byte
	EncryptedDataKey []byte
	IV               []byte
	AuthTag          []byte
	LastAccessedAt   *time.Time
	LastAccessReason string
	AccessCount      int
}

// WalletRepository persists CustodialWallet and WalletKey rows.
type WalletRepository interface {
	// GetByUser retrieves a wallet for (userID, tenantID).
	//
	// # Possible errors
	//
	//  - NotFound: no wallet exists for the user in this tenant.
	GetByUser(ctx context.Context, userID, tenantID string) (*CustodialWallet, error)

	// Create persists a new wallet and its key envelope atomically.
	Create(ctx context.Context, wallet *CustodialWallet, key *WalletKey) error

	// GetKey retrieves the key envelope for a wallet.
	GetKey(ctx context.Context, walletID string) (*WalletKey, error)

	// GetByID retrieves a wallet by its own id, used by the vault to
	// verify key integrity (derived public key vs. stored address) before
	// a signature is released.
	GetByID(ctx context.Context, walletID string) (*CustodialWallet, error)

	// RecordAccess bumps access_count/last_accessed_at after a signing
	// operation and records the caller-supplied reason for the access
	// audit trail.
	RecordAccess(ctx context.Context, walletID string, accessedAt time.Time, reason string) error

	// UpdateStatus transitions a wallet's status.
	UpdateStatus(ctx context.Context, walletID string, status WalletStatus) error
}
