package resilience

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pannpers/go-apperr/apperr"
	"github.com/pannpers/go-apperr/apperr/codes"
	"github.com/ticketcore/scancore/internal/infrastructure/telemetry"
)

// BulkheadCategory names one of the fixed workload classes isolated from
// each other by their own concurrency pool.
type BulkheadCategory string

const (
	BulkheadMint   BulkheadCategory = "mint"
	BulkheadWallet BulkheadCategory = "wallet"
	BulkheadQuery  BulkheadCategory = "query"
	BulkheadAdmin  BulkheadCategory = "admin"
)

// BulkheadCapacities are the default per-category concurrency caps.
func DefaultBulkheadCapacities() map[BulkheadCategory]int {
	return map[BulkheadCategory]int{
		BulkheadMint:   10,
		BulkheadWallet: 20,
		BulkheadQuery:  50,
		BulkheadAdmin:  5,
	}
}

// assumedServiceTime is the per-request duration assumed when computing a
// Retry-After hint from queue depth.
const assumedServiceTime = 2 * time.Second

// Bulkhead is a fixed-size semaphore isolating one workload category's
// concurrency from the others. A rejected caller gets a Retry-After hint
// derived from how deep the queue is relative to capacity.
type Bulkhead struct {
	category BulkheadCategory
	capacity int
	slots    chan struct{}
	queued   int64
}

// NewBulkhead builds a Bulkhead with the given capacity.
func NewBulkhead(category BulkheadCategory, capacity int) *Bulkhead {
	return &Bulkhead{
		category: category,
		capacity: capacity,
		slots:    make(chan struct{}, capacity),
	}
}

// Acquire claims a slot, returning a release function. If no slot is free,
// it returns an Unavailable error carrying a Retry-After duration computed
// from the current queue depth; it never blocks.
func (b *Bulkhead) Acquire(ctx context.Context) (release func(), err error) {
	select {
	case b.slots <- struct{}{}:
		return func() { <-b.slots }, nil
	default:
	}

	depth := atomic.AddInt64(&b.queued, 1)
	defer atomic.AddInt64(&b.queued, -1)

	retryAfter := retryAfterFor(depth, b.capacity)
	telemetry.BulkheadRejectedTotal.WithLabelValues(string(b.category)).Inc()
	// Unavailable, not ResourceExhausted: a full bulkhead surfaces as 503
	// with a Retry-After hint, distinct from a per-client rate limit.
	return nil, &RejectedError{
		Category:   b.category,
		RetryAfter: retryAfter,
		cause:      apperr.New(codes.Unavailable, "bulkhead capacity exhausted"),
	}
}

// RejectedError is returned when a bulkhead has no free slot. The HTTP
// adapter unwraps it to set the Retry-After and X-Bulkhead-Type headers
// directly, rather than parsing them back out of the error message.
type RejectedError struct {
	Category   BulkheadCategory
	RetryAfter time.Duration
	cause      error
}

func (e *RejectedError) Error() string { return e.cause.Error() }
func (e *RejectedError) Unwrap() error { return e.cause }

// retryAfterFor computes queueDepth/capacity * assumedServiceTime, clamped
// to [1s, 60s].
func retryAfterFor(queueDepth int64, capacity int) time.Duration {
	if capacity <= 0 {
		capacity = 1
	}
	ratio := float64(queueDepth) / float64(capacity)
	d := time.Duration(ratio * float64(assumedServiceTime))
	switch {
	case d < time.Second:
		return time.Second
	case d > 60*time.Second:
		return 60 * time.Second
	default:
		return d
	}
}
