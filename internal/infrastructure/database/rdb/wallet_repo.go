package rdb

import (
	"context"
	"time"

	"github.com/ticketcore/scancore/internal/entity"
)

// WalletRepository implements entity.WalletRepository.
type WalletRepository struct {
	db *Database
}

var _ entity.WalletRepository = (*WalletRepository)(nil)

// NewWalletRepository builds a WalletRepository over db.
func NewWalletRepository(db *Database) *WalletRepository {
	return &WalletRepository{db: db}
}

const (
	getWalletByUserQuery = `
		SELECT id, user_id, tenant_id, address, status, kms_key_id, key_version
		FROM custodial_wallets
		WHERE user_id = $1 AND tenant_id = $2
	`

	insertWalletQuery = `
		INSERT INTO custodial_wallets (id, user_id, tenant_id, address, status, kms_key_id, key_version)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	insertWalletKeyQuery = `
		INSERT INTO wallet_keys (wallet_id, encrypted_secret, encrypted_data_key, iv, auth_tag, access_count)
		VALUES ($1, $2, $3, $4, $5, 0)
	`

	getWalletByIDQuery = `
		SELECT id, user_id, tenant_id, address, status, kms_key_id, key_version
		FROM custodial_wallets
		WHERE id = $1
	`

	getWalletKeyQuery = `
		SELECT wallet_id, encrypted_secret, encrypted_data_key, iv, auth_tag,
		       last_accessed_at, COALESCE(last_access_reason, ''), access_count
		FROM wallet_keys
		WHERE wallet_id = $1
	`

	recordWalletAccessQuery = `
		UPDATE wallet_keys SET access_count = access_count + 1, last_accessed_at = $2, last_access_reason = $3
		WHERE wallet_id = $1
	`

	updateWalletStatusQuery = `
		UPDATE custodial_wallets SET status = $2 WHERE id = $1
	`
)

// GetByUser retrieves a wallet for (userID, tenantID).
//
// # Possible errors
//
//   - NotFound: no wallet exists for the user in this tenant.
func (r *WalletRepository) GetByUser(ctx context.Context, userID, tenantID string) (*entity.CustodialWallet, error) {
	row := querierFrom(ctx, r.db).QueryRow(ctx, getWalletByUserQuery, userID, tenantID)

	var w entity.CustodialWallet
	err := row.Scan(&w.ID, &w.UserID, &w.TenantID, &w.Address, &w.Status, &w.KMSKeyID, &w.KeyVersion)
	if err != nil {
		return nil, toAppErr(err, "failed to get wallet by user")
	}
	return &w, nil
}

// Create persists a new wallet and its key envelope atomically.
func (r *WalletRepository) Create(ctx context.Context, wallet *entity.CustodialWallet, key *entity.WalletKey) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return toAppErr(err, "failed to begin wallet creation transaction")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, insertWalletQuery, wallet.ID, wallet.UserID, wallet.TenantID, wallet.Address, wallet.Status, wallet.KMSKeyID, wallet.KeyVersion); err != nil {
		return toAppErr(err, "failed to insert wallet")
	}
	if _, err := tx.Exec(ctx, insertWalletKeyQuery, key.WalletID, key.EncryptedSecret, key.EncryptedDataKey, key.IV, key.AuthTag); err != nil {
		return toAppErr(err, "failed to insert wallet key")
	}
	if err := tx.Commit(ctx); err != nil {
		return toAppErr(err, "failed to commit wallet creation")
	}
	return nil
}

// GetByID retrieves a wallet by its own id.
func (r *WalletRepository) GetByID(ctx context.Context, walletID string) (*entity.CustodialWallet, error) {
	row := querierFrom(ctx, r.db).QueryRow(ctx, getWalletByIDQuery, walletID)

	var w entity.CustodialWallet
	err := row.Scan(&w.ID, &w.UserID, &w.TenantID, &w.Address, &w.Status, &w.KMSKeyID, &w.KeyVersion)
	if err != nil {
		return nil, toAppErr(err, "failed to get wallet by id")
	}
	return &w, nil
}

// GetKey retrieves the key envelope for a wallet.
func (r *WalletRepository) GetKey(ctx context.Context, walletID string) (*entity.WalletKey, error) {
	row := r.db.Pool.QueryRow(ctx, getWalletKeyQuery, walletID)

	var k entity.WalletKey
	err := row.Scan(&k.WalletID, &k.EncryptedSecret, &k.EncryptedDataKey, &k.IV, &k.AuthTag, &k.LastAccessedAt, &k.LastAccessReason, &k.AccessCount)
	if err != nil {
		return nil, toAppErr(err, "failed to get wallet key")
	}
	return &k, nil
}

// RecordAccess bumps access_count/last_accessed_at after a signing
// operation, recording the caller-supplied reason alongside.
func (r *WalletRepository) RecordAccess(ctx context.Context, walletID string, accessedAt time.Time, reason string) error {
	tag, err := r.db.Pool.Exec(ctx, recordWalletAccessQuery, walletID, accessedAt, reason)
	if err != nil {
		return toAppErr(err, "failed to record wallet access")
	}
	return errRowsAffected(tag, "wallet_key")
}

// UpdateStatus transitions a wallet's status.
func (r *WalletRepository) UpdateStatus(ctx context.Context, walletID string, status entity.WalletStatus) error {
	tag, err := querierFrom(ctx, r.db).Exec(ctx, updateWalletStatusQuery, walletID, status)
	if err != nil {
		return toAppErr(err, "failed to update wallet status")
	}
	return errRowsAffected(tag, "wallet")
}
