package resilience

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBulkhead_AcquireReleaseAndExhaustion(t *testing.T) {
	b := NewBulkhead(BulkheadMint, 2)
	ctx := context.Background()

	release1, err := b.Acquire(ctx)
	require.NoError(t, err)
	release2, err := b.Acquire(ctx)
	require.NoError(t, err)

	_, err = b.Acquire(ctx)
	require.Error(t, err)
	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	require.Equal(t, BulkheadMint, rejected.Category)
	require.GreaterOrEqual(t, rejected.RetryAfter.Seconds(), 1.0)
	require.LessOrEqual(t, rejected.RetryAfter.Seconds(), 60.0)

	// Releasing a slot frees capacity for the next caller.
	release1()
	release3, err := b.Acquire(ctx)
	require.NoError(t, err)

	release2()
	release3()
}

func TestRetryAfterFor_ClampsToRange(t *testing.T) {
	require.Equal(t, float64(1), retryAfterFor(1, 100).Seconds())
	require.Equal(t, float64(60), retryAfterFor(1000, 1).Seconds())
}
