package kv

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pannpers/go-apperr/apperr"
	"github.com/pannpers/go-apperr/apperr/codes"
)

// LockKeyPrefix namespaces distributed lock keys away from idempotency and
// recovery keys sharing the same backing store.
const LockKeyPrefix = "lock:"

// Lock is a single-holder distributed lock: SetIfAbsent claims it with a
// caller-unique token, Release only deletes the key if the stored value
// still matches that token.
type Lock struct {
	store Store
}

// NewLock builds a Lock over the given Store. Production wiring should pass
// the raw Redis-backed Store, never a Degraded one — see kv.Degraded's doc
// comment for why lock acquisition must fail closed on a KV outage.
func NewLock(store Store) *Lock {
	return &Lock{store: store}
}

// Acquire attempts to claim key for ttl, returning the owner token on
// success. An empty token with a nil error means another holder already
// owns the key.
func (l *Lock) Acquire(ctx context.Context, key string, ttl time.Duration) (token string, err error) {
	tok := uuid.NewString()
	ok, err := l.store.SetIfAbsent(ctx, LockKeyPrefix+key, []byte(tok), ttl)
	if err != nil {
		return "", apperr.Wrap(err, codes.Unavailable, "lock acquire failed")
	}
	if !ok {
		return "", nil
	}
	return tok, nil
}

// Release deletes key only if it is still held by token. Releasing a key
// already released, expired, or held by someone else is not an error: it
// simply returns false.
func (l *Lock) Release(ctx context.Context, key, token string) (bool, error) {
	ok, err := l.store.CompareDelete(ctx, LockKeyPrefix+key, []byte(token))
	if err != nil {
		return false, apperr.Wrap(err, codes.Unavailable, "lock release failed")
	}
	return ok, nil
}

// MintLockKey builds the canonical key for serializing mints against a
// single ticket.
func MintLockKey(tenantID, ticketID string) string {
	return "mint:" + tenantID + ":" + ticketID
}
