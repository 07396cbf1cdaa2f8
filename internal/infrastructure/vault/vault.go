// Package vault implements the Custodial Key Vault: it generates signing
// keypairs, envelope-encrypts the private half under an AWS KMS data key,
// and decrypts only transiently inside Sign, zeroing the plaintext
// afterward. Grounded on the HSM provider abstraction's separation of
// "generate" from "use" (never return raw key material from Generate),
// adapted to KMS envelope encryption for this core's key-at-rest model.
package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/pannpers/go-apperr/apperr"
	"github.com/pannpers/go-apperr/apperr/codes"
	"github.com/pannpers/go-logging/logging"

	"github.com/ticketcore/scancore/internal/entity"
	"github.com/ticketcore/scancore/internal/infrastructure/resilience"
)

// KMSClient is the subset of *kms.Client the vault depends on, narrowed
// for testability.
type KMSClient interface {
	GenerateDataKey(ctx context.Context, params *kms.GenerateDataKeyInput, optFns ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// Vault creates custodial wallets and signs transactions on their behalf
// without ever persisting or logging decrypted key material.
type Vault struct {
	kms     KMSClient
	keyID   string
	repo    entity.WalletRepository
	breaker *resilience.Breaker
	logger  *logging.Logger
}

var _ entity.Signer = (*Vault)(nil)

// NewVault builds a Vault using KMS key keyID for envelope encryption.
func NewVault(kmsClient KMSClient, keyID string, repo entity.WalletRepository, breaker *resilience.Breaker, logger *logging.Logger) *Vault {
	return &Vault{kms: kmsClient, keyID: keyID, repo: repo, breaker: breaker, logger: logger}
}

// Provision generates a fresh Ed25519 keypair, envelope-encrypts the
// private key under a KMS data key, and persists the wallet and its key
// envelope atomically.
func (v *Vault) Provision(ctx context.Context, userID, tenantID string) (*entity.CustodialWallet, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, apperr.Wrap(err, codes.Internal, "vault: keypair generation failed")
	}
	defer zero(priv)

	dataKeyOut, err := resilience.Do(ctx, v.breaker, func(ctx context.Context) (*kms.GenerateDataKeyOutput, error) {
		return v.kms.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
			KeyId:   &v.keyID,
			KeySpec: types.DataKeySpecAes256,
		})
	})
	if err != nil {
		return nil, apperr.Wrap(err, codes.Unavailable, "vault: KMS data key generation failed")
	}
	defer zero(dataKeyOut.Plaintext)

	iv, ciphertext, authTag, err := seal(dataKeyOut.Plaintext, priv)
	if err != nil {
		return nil, err
	}

	wallet := &entity.CustodialWallet{
		ID:         uuidish(pub),
		UserID:     userID,
		TenantID:   tenantID,
		Address:    base64.RawURLEncoding.EncodeToString(pub),
		Status:     entity.WalletActive,
		KMSKeyID:   v.keyID,
		KeyVersion: 1,
	}
	key := &entity.WalletKey{
		WalletID:         wallet.ID,
		EncryptedSecret:  ciphertext,
		EncryptedDataKey: dataKeyOut.CiphertextBlob,
		IV:               iv,
		AuthTag:          authTag,
	}

	if err := v.repo.Create(ctx, wallet, key); err != nil {
		return nil, err
	}
	return wallet, nil
}

// Sign decrypts walletID's key material transiently, signs tx, and zeroes
// the plaintext key before returning. reason is recorded for the access
// audit trail via RecordAccess.
func (v *Vault) Sign(ctx context.Context, tx *entity.UnsignedTx, walletID string, reason string) (*entity.SignedTx, error) {
	wallet, err := v.repo.GetByID(ctx, walletID)
	if err != nil {
		return nil, err
	}
	if wallet.Status != entity.WalletActive {
		return nil, apperr.New(codes.PermissionDenied, "vault: wallet is not active")
	}

	key, err := v.repo.GetKey(ctx, walletID)
	if err != nil {
		return nil, err
	}

	plainDataKey, err := resilience.Do(ctx, v.breaker, func(ctx context.Context) ([]byte, error) {
		out, err := v.kms.Decrypt(ctx, &kms.DecryptInput{CiphertextBlob: key.EncryptedDataKey})
		if err != nil {
			return nil, err
		}
		return out.Plaintext, nil
	})
	if err != nil {
		return nil, apperr.Wrap(err, codes.Unavailable, "vault: KMS decrypt failed")
	}
	defer zero(plainDataKey)

	priv, err := open(plainDataKey, key.IV, key.EncryptedSecret, key.AuthTag)
	if err != nil {
		return nil, err
	}
	defer zero(priv)

	// Key integrity: the public half derived from the decrypted private
	// key must match the address this wallet was provisioned with. A
	// mismatch means the envelope was tampered with or corrupted and the
	// signature must never be released.
	derivedPub := ed25519.PrivateKey(priv).Public().(ed25519.PublicKey)
	if base64.RawURLEncoding.EncodeToString(derivedPub) != wallet.Address {
		return nil, apperr.New(codes.Internal, "vault: key integrity check failed, derived public key does not match wallet address")
	}

	signature := ed25519.Sign(ed25519.PrivateKey(priv), signingPayload(tx))

	if err := v.repo.RecordAccess(ctx, walletID, time.Now(), reason); err != nil {
		v.logger.Warn(ctx, "vault: failed to record key access", slog.String("wallet_id", walletID), slog.Any("error", err))
	}

	return &entity.SignedTx{
		UnsignedTx: *tx,
		Signature:  base64.RawURLEncoding.EncodeToString(signature),
	}, nil
}

// signingPayload is the canonical byte form a signature covers: the
// instructions and blockhash, so a replayed signature cannot be attached
// to a different transaction.
func signingPayload(tx *entity.UnsignedTx) []byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, []byte(tx.Instructions.Kind)...)
	buf = append(buf, ':')
	buf = append(buf, []byte(tx.Instructions.Recipient)...)
	buf = append(buf, ':')
	buf = append(buf, []byte(tx.Blockhash)...)
	return buf
}

// seal encrypts plaintext under dataKey with AES-256-GCM, returning the
// IV, ciphertext, and detached auth tag.
func seal(dataKey, plaintext []byte) (iv, ciphertext, authTag []byte, err error) {
	block, err := aes.NewCipher(dataKey)
	if err != nil {
		return nil, nil, nil, apperr.Wrap(err, codes.Internal, "vault: cipher init failed")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, nil, apperr.Wrap(err, codes.Internal, "vault: GCM init failed")
	}
	iv = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, nil, apperr.Wrap(err, codes.Internal, "vault: IV generation failed")
	}
	sealed := gcm.Seal(nil, iv, plaintext, nil)
	tagStart := len(sealed) - gcm.Overhead()
	return iv, sealed[:tagStart], sealed[tagStart:], nil
}

// open decrypts ciphertext+authTag under dataKey and IV, reassembling the
// combined GCM sealed box gcm.Open expects.
func open(dataKey, iv, ciphertext, authTag []byte) ([]byte, error) {
	block, err := aes.NewCipher(dataKey)
	if err != nil {
		return nil, apperr.Wrap(err, codes.Internal, "vault: cipher init failed")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, apperr.Wrap(err, codes.Internal, "vault: GCM init failed")
	}
	sealed := append(append([]byte(nil), ciphertext...), authTag...)
	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, apperr.Wrap(err, codes.PermissionDenied, "vault: key envelope authentication failed")
	}
	return plaintext, nil
}

// SetStatus transitions walletID through the wallet lifecycle. ARCHIVED
// is terminal: once a wallet is archived, no transition out is permitted,
// and only SUSPENDED/LOCKED wallets may return to ACTIVE.
func (v *Vault) SetStatus(ctx context.Context, walletID string, status entity.WalletStatus) error {
	wallet, err := v.repo.GetByID(ctx, walletID)
	if err != nil {
		return err
	}
	if wallet.Status == entity.WalletArchived {
		return apperr.New(codes.FailedPrecondition, "vault: archived wallets cannot change status")
	}
	if status == entity.WalletActive && !wallet.Status.CanRecover() && wallet.Status != entity.WalletActive {
		return apperr.New(codes.FailedPrecondition, "vault: wallet cannot be reactivated from its current status")
	}
	return v.repo.UpdateStatus(ctx, walletID, status)
}

// zero overwrites b in place so decrypted key material does not linger on
// the heap past its use.
func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// uuidish derives a deterministic, non-reversible wallet ID from the
// public key so two Provision calls for the same keypair never collide.
func uuidish(pub ed25519.PublicKey) string {
	return base64.RawURLEncoding.EncodeToString(pub)[:22]
}
