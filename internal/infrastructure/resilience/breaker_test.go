package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker("test-dep", BreakerParams{FailureThreshold: 3, Window: time.Minute, Timeout: 50 * time.Millisecond})
	ctx := context.Background()
	boom := errors.New("boom")

	failing := func(ctx context.Context) (int, error) { return 0, boom }

	for i := 0; i < 3; i++ {
		_, err := Do(ctx, b, failing)
		require.ErrorIs(t, err, boom)
	}

	require.Equal(t, "open", b.State())

	// While open, calls are rejected without invoking fn at all.
	called := false
	_, err := Do(ctx, b, func(ctx context.Context) (int, error) {
		called = true
		return 1, nil
	})
	require.Error(t, err)
	require.False(t, called)

	// After the cool-down, a half-open probe that succeeds closes the breaker.
	time.Sleep(60 * time.Millisecond)
	v, err := Do(ctx, b, func(ctx context.Context) (int, error) { return 42, nil })
	require.NoError(t, err)
	require.Equal(t, 42, v)
	require.Equal(t, "closed", b.State())
}
