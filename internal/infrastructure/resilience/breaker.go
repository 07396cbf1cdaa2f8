// Package resilience holds the outbound-call protection primitives shared
// by every adapter that talks to an external dependency: per-dependency
// circuit breakers, per-category bulkheads, and the internal HMAC
// service-to-service auth check.
package resilience

import (
	"context"
	"time"

	"github.com/pannpers/go-apperr/apperr"
	"github.com/pannpers/go-apperr/apperr/codes"
	"github.com/sony/gobreaker"
	"github.com/ticketcore/scancore/internal/infrastructure/telemetry"
)

// BreakerParams are the thresholds applied to every outbound dependency
// this core wraps (Chain Adapter, KMS, metadata storage).
type BreakerParams struct {
	// FailureThreshold is the number of consecutive failures within Window
	// that trips the breaker open.
	FailureThreshold uint32
	// Window bounds the consecutive-failure count; it resets outside it.
	Window time.Duration
	// Timeout is how long the breaker stays OPEN before allowing a
	// HALF_OPEN probe.
	Timeout time.Duration
}

// DefaultBreakerParams: threshold 5 consecutive failures, 30s open timeout, 60s reset.
// The "reset" value maps onto Window, gobreaker's Interval: the period
// after which failure counts tracked in the closed state are cleared.
// Timeout carries the 30s cool-down, and a single successful HALF_OPEN
// probe closes the breaker (MaxRequests is 1).
func DefaultBreakerParams() BreakerParams {
	return BreakerParams{
		FailureThreshold: 5,
		Window:           60 * time.Second,
		Timeout:          30 * time.Second,
	}
}

// Breaker wraps gobreaker.CircuitBreaker with the apperr-shaped error
// conversion the rest of this core expects from an outbound call.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewBreaker builds a named Breaker for one outbound dependency.
func NewBreaker(name string, params BreakerParams) *Breaker {
	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    params.Window,
		Timeout:     params.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= params.FailureThreshold
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen && from != gobreaker.StateOpen {
				telemetry.BreakerTrippedTotal.WithLabelValues(name).Inc()
			}
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(st)}
}

// Do executes fn through the breaker, translating a trip into a typed
// upstream_unavailable error instead of the raw gobreaker sentinel.
func Do[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	result, err := b.cb.Execute(func() (any, error) {
		return fn(ctx)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return zero, apperr.Wrap(err, codes.Unavailable, "circuit breaker open")
		}
		return zero, err
	}
	return result.(T), nil
}

// State reports the breaker's current state for health/debug surfaces.
func (b *Breaker) State() string {
	return b.cb.State().String()
}
