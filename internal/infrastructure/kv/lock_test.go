package kv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLock_SingleHolderSemantics(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	defer store.Close()
	lock := NewLock(store)
	ctx := context.Background()

	key := MintLockKey("tenant-a", "T1")
	token1, err := lock.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, token1)

	// A second concurrent caller must not be granted the lock.
	token2, err := lock.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	require.Empty(t, token2)

	// Releasing with the wrong token is a no-op, not an error.
	released, err := lock.Release(ctx, key, "not-the-real-token")
	require.NoError(t, err)
	require.False(t, released)

	released, err = lock.Release(ctx, key, token1)
	require.NoError(t, err)
	require.True(t, released)

	// Once released, a new caller can acquire it.
	token3, err := lock.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, token3)
}

func TestLock_ExpiresAfterTTL(t *testing.T) {
	store := NewMemoryStore(10 * time.Millisecond)
	defer store.Close()
	lock := NewLock(store)
	ctx := context.Background()

	key := MintLockKey("tenant-a", "T2")
	_, err := lock.Acquire(ctx, key, 20*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(80 * time.Millisecond)

	token, err := lock.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, token, "lock should be acquirable again once its TTL has elapsed")
}
