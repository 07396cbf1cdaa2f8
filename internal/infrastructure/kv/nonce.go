package kv

import (
	"context"
	"time"

	"github.com/pannpers/go-apperr/apperr"
	"github.com/pannpers/go-apperr/apperr/codes"
)

// NonceKeyPrefix namespaces QR nonce-replay entries within the shared store.
const NonceKeyPrefix = "nonce:"

// NonceStore prevents a QR token's nonce from being accepted twice. Claim
// is the only operation: SetIfAbsent gives set-if-absent mutual exclusion
// so, under a race, exactly one concurrent claimant succeeds.
type NonceStore struct {
	store Store
}

// NewNonceStore builds a NonceStore over the shared KV Store.
func NewNonceStore(store Store) *NonceStore {
	return &NonceStore{store: store}
}

// Claim attempts to record nonce as used for ttl. claimed is true iff this
// call was the first to see the nonce.
func (s *NonceStore) Claim(ctx context.Context, nonce string, ttl time.Duration) (claimed bool, err error) {
	ok, err := s.store.SetIfAbsent(ctx, NonceKeyPrefix+nonce, []byte{1}, ttl)
	if err != nil {
		return false, apperr.Wrap(err, codes.Unavailable, "nonce claim failed")
	}
	return ok, nil
}
