package kv

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pannpers/go-apperr/apperr"
	"github.com/stretchr/testify/require"

	"github.com/ticketcore/scancore/internal/entity"
)

func TestIdempotencyStore_BeginCompleteReplay(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	defer store.Close()
	idem := NewIdempotencyStore(store)
	ctx := context.Background()

	entry, created, err := idem.Begin(ctx, "tenant-a", "req-1")
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, entity.IdempotencyProcessing, entry.Status)

	// A concurrent caller racing the same key finds it already processing.
	existing, created, err := idem.Begin(ctx, "tenant-a", "req-1")
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, entity.IdempotencyProcessing, existing.Status)

	point := entity.RecoveryCompleted
	require.NoError(t, idem.Complete(ctx, "tenant-a", "req-1", []byte(`{"ok":true}`), point))

	got, err := idem.Get(ctx, "tenant-a", "req-1")
	require.NoError(t, err)
	require.Equal(t, entity.IdempotencyCompleted, got.Status)
	require.Equal(t, []byte(`{"ok":true}`), got.Response)
	require.NotNil(t, got.RecoveryPoint)
	require.Equal(t, entity.RecoveryCompleted, *got.RecoveryPoint)

	// Replaying Begin against a completed entry surfaces the cached response
	// rather than starting a second attempt.
	replayed, created, err := idem.Begin(ctx, "tenant-a", "req-1")
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, entity.IdempotencyCompleted, replayed.Status)
	require.Equal(t, []byte(`{"ok":true}`), replayed.Response)
}

func TestIdempotencyStore_FailThenClearAllowsRetry(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	defer store.Close()
	idem := NewIdempotencyStore(store)
	ctx := context.Background()

	_, created, err := idem.Begin(ctx, "tenant-a", "req-2")
	require.NoError(t, err)
	require.True(t, created)

	require.NoError(t, idem.Fail(ctx, "tenant-a", "req-2"))

	got, err := idem.Get(ctx, "tenant-a", "req-2")
	require.NoError(t, err)
	require.Equal(t, entity.IdempotencyFailed, got.Status)

	require.NoError(t, idem.Clear(ctx, "tenant-a", "req-2"))

	_, err = idem.Get(ctx, "tenant-a", "req-2")
	require.Error(t, err)
	require.True(t, errors.Is(err, apperr.ErrNotFound))

	_, created, err = idem.Begin(ctx, "tenant-a", "req-2")
	require.NoError(t, err)
	require.True(t, created, "a cleared key must be acquirable as a fresh attempt")
}

func TestIdempotencyStore_IsolatedPerTenant(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	defer store.Close()
	idem := NewIdempotencyStore(store)
	ctx := context.Background()

	_, created, err := idem.Begin(ctx, "tenant-a", "shared-key")
	require.NoError(t, err)
	require.True(t, created)

	// The same client-supplied key under a different tenant is a distinct entry.
	_, created, err = idem.Begin(ctx, "tenant-b", "shared-key")
	require.NoError(t, err)
	require.True(t, created)
}

func TestIdempotencyStore_GetMissingIsNotFound(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	defer store.Close()
	idem := NewIdempotencyStore(store)
	ctx := context.Background()

	_, err := idem.Get(ctx, "tenant-a", "never-seen")
	require.Error(t, err)
	require.True(t, errors.Is(err, apperr.ErrNotFound))
}
