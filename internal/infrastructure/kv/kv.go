// Package kv provides the shared fast key-value primitive backing the
// distributed lock, idempotency store, recovery-point store, and nonce
// replay set. Production wiring talks to Redis; an in-process fallback
// keeps process-local correctness when Redis is unreachable.
package kv

import (
	"context"
	"time"
)

// Store is the capability set every KV-backed primitive in this package is
// built from: set-if-absent, compare-and-delete, plain get/set/delete, all
// with per-key TTL. Production wiring (Redis) and the in-process fallback
// both satisfy it, per the "polymorphic adapter" pattern this core uses
// throughout the infrastructure layer.
type Store interface {
	// SetIfAbsent atomically writes value under key only if key does not
	// currently exist (or has expired). Returns false without error if
	// another writer already holds the key.
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Set unconditionally writes value under key, overwriting any prior value.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get reads the current value for key. found is false if key is absent or expired.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Delete removes key unconditionally. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// CompareDelete removes key only if its current value equals expected,
	// used for single-holder lock release.
	CompareDelete(ctx context.Context, key string, expected []byte) (bool, error)
}

// Degraded wraps a primary Store and falls back to a secondary (in-process)
// Store whenever the primary returns an error, so idempotency and recovery
// stores survive a KV outage with process-local correctness. Lock
// operations deliberately do NOT use
// Degraded: a lock that silently falls back to an in-process map during a
// Redis outage would stop serializing mints across replicas without any
// signal, which is worse than failing closed.
type Degraded struct {
	Primary    Store
	Fallback   Store
	onFallback func(err error)
}

// NewDegraded builds a Degraded store. onFallback, if non-nil, is invoked
// (with the triggering error) every time an operation falls through to the
// secondary store, so callers can log the degradation.
func NewDegraded(primary, fallback Store, onFallback func(err error)) *Degraded {
	return &Degraded{Primary: primary, Fallback: fallback, onFallback: onFallback}
}

func (d *Degraded) report(err error) {
	if d.onFallback != nil {
		d.onFallback(err)
	}
}

func (d *Degraded) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := d.Primary.SetIfAbsent(ctx, key, value, ttl)
	if err != nil {
		d.report(err)
		return d.Fallback.SetIfAbsent(ctx, key, value, ttl)
	}
	return ok, nil
}

func (d *Degraded) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := d.Primary.Set(ctx, key, value, ttl); err != nil {
		d.report(err)
		return d.Fallback.Set(ctx, key, value, ttl)
	}
	return nil
}

func (d *Degraded) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, found, err := d.Primary.Get(ctx, key)
	if err != nil {
		d.report(err)
		return d.Fallback.Get(ctx, key)
	}
	return v, found, nil
}

func (d *Degraded) Delete(ctx context.Context, key string) error {
	if err := d.Primary.Delete(ctx, key); err != nil {
		d.report(err)
		return d.Fallback.Delete(ctx, key)
	}
	return nil
}

func (d *Degraded) CompareDelete(ctx context.Context, key string, expected []byte) (bool, error) {
	ok, err := d.Primary.CompareDelete(ctx, key, expected)
	if err != nil {
		d.report(err)
		return d.Fallback.CompareDelete(ctx, key, expected)
	}
	return ok, nil
}
