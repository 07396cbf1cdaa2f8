package chain

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pannpers/go-apperr/apperr"
	"github.com/pannpers/go-apperr/apperr/codes"
	"github.com/pannpers/go-logging/logging"

	"github.com/ticketcore/scancore/internal/entity"
	"github.com/ticketcore/scancore/internal/infrastructure/resilience"
)

// Adapter implements entity.ChainAdapter over an EndpointPool, with every
// outbound call wrapped by a circuit breaker so a degrading chain trips
// before every mint in flight queues up behind it.
type Adapter struct {
	pool    *EndpointPool
	breaker *resilience.Breaker
	logger  *logging.Logger
}

var _ entity.ChainAdapter = (*Adapter)(nil)

// NewAdapter builds a Chain Adapter over pool, guarded by breaker.
func NewAdapter(pool *EndpointPool, breaker *resilience.Breaker, logger *logging.Logger) *Adapter {
	return &Adapter{pool: pool, breaker: breaker, logger: logger}
}

// defaultComputeUnits is used when simulation itself fails.
const defaultComputeUnits = 200_000

// computeUnitFloor and computeUnitCeiling bound the buffered simulation
// result.
const (
	computeUnitFloor   = 50_000
	computeUnitCeiling = 1_400_000
)

// priorityFeeFloorMicro is the minimum priority fee regardless of the
// observed recent-fee median.
const priorityFeeFloorMicro = 100

// Estimate simulates instructions on the current endpoint to obtain a
// compute-unit estimate (units_consumed + 20% buffer, clamped) and reads
// recent prioritization fees to derive a priority fee (median, scaled by
// urgency, floored). If simulation fails, it falls back to
// defaultComputeUnits and flags the estimate non-simulated rather than
// blocking the mint pipeline on a simulation RPC.
func (a *Adapter) Estimate(ctx context.Context, instructions entity.TxInstructions, urgency entity.Urgency) (*entity.FeeEstimate, error) {
	return resilience.Do(ctx, a.breaker, func(ctx context.Context) (*entity.FeeEstimate, error) {
		computeUnits, simulated := a.simulateComputeUnits(ctx, instructions)
		priorityFee := a.estimatePriorityFee(ctx, urgency)
		return &entity.FeeEstimate{
			ComputeUnits:     computeUnits,
			PriorityFeeMicro: priorityFee,
			Simulated:        simulated,
		}, nil
	})
}

func (a *Adapter) simulateComputeUnits(ctx context.Context, instructions entity.TxInstructions) (units uint32, simulated bool) {
	var raw struct {
		UnitsConsumed uint32 `json:"unitsConsumed"`
	}
	if err := a.call(ctx, "simulateTransaction", &raw, instructions); err != nil {
		a.logger.Warn(ctx, "chain: simulation failed, using static compute estimate", slog.Any("error", err))
		return defaultComputeUnits, false
	}
	buffered := uint32(float64(raw.UnitsConsumed) * 1.2)
	switch {
	case buffered < computeUnitFloor:
		buffered = computeUnitFloor
	case buffered > computeUnitCeiling:
		buffered = computeUnitCeiling
	}
	return buffered, true
}

func (a *Adapter) estimatePriorityFee(ctx context.Context, urgency entity.Urgency) uint64 {
	var raw []struct {
		PrioritizationFee uint64 `json:"prioritizationFee"`
	}
	if err := a.call(ctx, "getRecentPrioritizationFees", &raw); err != nil || len(raw) == 0 {
		a.logger.Warn(ctx, "chain: recent prioritization fee lookup failed, using floor", slog.Any("error", err))
		return priorityFeeFloorMicro
	}

	fees := make([]uint64, len(raw))
	for i, r := range raw {
		fees[i] = r.PrioritizationFee
	}
	median := medianOf(fees)

	fee := uint64(float64(median) * urgencyFactor(urgency))
	if fee < priorityFeeFloorMicro {
		return priorityFeeFloorMicro
	}
	return fee
}

func urgencyFactor(u entity.Urgency) float64 {
	switch u {
	case entity.UrgencyHigh:
		return 2.0
	case entity.UrgencyMedium:
		return 1.0
	default:
		return 0.5
	}
}

// medianOf sorts a copy of vs and returns the middle element (upper of the
// two middles for an even-length slice).
func medianOf(vs []uint64) uint64 {
	if len(vs) == 0 {
		return 0
	}
	sorted := append([]uint64(nil), vs...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	return sorted[len(sorted)/2]
}

// Build fetches a fresh blockhash and assembles the UnsignedTx.
func (a *Adapter) Build(ctx context.Context, instructions entity.TxInstructions, estimate *entity.FeeEstimate, signer string) (*entity.UnsignedTx, error) {
	return resilience.Do(ctx, a.breaker, func(ctx context.Context) (*entity.UnsignedTx, error) {
		var raw struct {
			Blockhash string `json:"blockhash"`
		}
		if err := a.call(ctx, "getLatestBlockhash", &raw); err != nil {
			return nil, err
		}
		return &entity.UnsignedTx{
			Instructions: instructions,
			Blockhash:    raw.Blockhash,
			ComputeUnits: estimate.ComputeUnits,
			PriorityFee:  estimate.PriorityFeeMicro,
		}, nil
	})
}

// Submit sends a signed transaction and returns its signature.
func (a *Adapter) Submit(ctx context.Context, tx *entity.SignedTx) (string, error) {
	return resilience.Do(ctx, a.breaker, func(ctx context.Context) (string, error) {
		var signature string
		if err := a.call(ctx, "sendTransaction", &signature, tx.Signature, tx.Blockhash); err != nil {
			return "", err
		}
		return signature, nil
	})
}

// Confirm polls getSignatureStatuses until commitment is reached, the
// status is an error, or timeout elapses.
func (a *Adapter) Confirm(ctx context.Context, signature string, commitment entity.Commitment, timeout time.Duration) (*entity.TxConfirmation, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		conf, done, err := a.pollOnce(ctx, signature, commitment)
		if err != nil {
			return nil, err
		}
		if done {
			return conf, nil
		}
		if time.Now().After(deadline) {
			return &entity.TxConfirmation{Status: entity.BlockchainTxPending}, apperr.New(codes.DeadlineExceeded, "chain: confirmation timed out")
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (a *Adapter) pollOnce(ctx context.Context, signature string, commitment entity.Commitment) (*entity.TxConfirmation, bool, error) {
	return func() (*entity.TxConfirmation, bool, error) {
		type result struct {
			conf *entity.TxConfirmation
			done bool
		}
		r, err := resilience.Do(ctx, a.breaker, func(ctx context.Context) (result, error) {
			var raw struct {
				Slot          uint64  `json:"slot"`
				Confirmations *uint64 `json:"confirmations"`
				Err           any     `json:"err"`
			}
			if err := a.call(ctx, "getSignatureStatuses", &raw, signature); err != nil {
				return result{}, err
			}
			if raw.Err != nil {
				return result{conf: &entity.TxConfirmation{Status: entity.BlockchainTxFailed, SlotNumber: raw.Slot}, done: true}, nil
			}
			if raw.Confirmations == nil {
				return result{done: false}, nil
			}
			status := entity.BlockchainTxConfirmed
			if commitment == entity.CommitmentFinalized {
				status = entity.BlockchainTxFinalized
			}
			return result{conf: &entity.TxConfirmation{Status: status, SlotNumber: raw.Slot}, done: true}, nil
		})
		if err != nil {
			return nil, false, err
		}
		return r.conf, r.done, nil
	}()
}

// GetBalance returns the native-unit balance for address, used by the
// Treasury Guard's sliding-window monitor.
func (a *Adapter) GetBalance(ctx context.Context, address string) (float64, error) {
	return resilience.Do(ctx, a.breaker, func(ctx context.Context) (float64, error) {
		var lamports uint64
		if err := a.call(ctx, "getBalance", &lamports, address); err != nil {
			return 0, err
		}
		return float64(lamports) / 1e9, nil
	})
}

// interEndpointDelay spaces retry attempts across endpoints.
const interEndpointDelay = time.Second

// call issues method against the pool's endpoints in priority order,
// retrying across up to len(endpoints) of them with interEndpointDelay
// spacing and failing over on every transport-level error — the ticket
// contract client's single-endpoint retry loop generalized to a pool.
// Exhausting every endpoint returns the last observed error.
func (a *Adapter) call(ctx context.Context, method string, result any, args ...any) error {
	endpoints := a.pool.Endpoints()

	var lastErr error
	for i, ep := range endpoints {
		if ep.client == nil {
			lastErr = apperr.New(codes.Unavailable, fmt.Sprintf("chain: endpoint %s has no live client", ep.url))
			continue
		}

		start := time.Now()
		err := ep.client.CallContext(ctx, result, method, args...)
		if err == nil {
			a.pool.MarkSuccess(ep, time.Since(start))
			return nil
		}

		lastErr = err
		a.pool.MarkFailure(ep)
		a.logger.Warn(ctx, "chain: rpc call failed", slog.String("method", method), slog.String("endpoint", ep.url), slog.Int("attempt", i), slog.Any("error", err))

		if i < len(endpoints)-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interEndpointDelay):
			}
		}
	}
	return apperr.Wrap(lastErr, codes.Unavailable, fmt.Sprintf("chain: %s failed across all %d endpoints", method, len(endpoints)))
}
