package treasury

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/pannpers/go-apperr/apperr"
	"github.com/pannpers/go-apperr/apperr/codes"
	"github.com/pannpers/go-logging/logging"

	"github.com/ticketcore/scancore/internal/entity"
)

// baseFeeLamports is the flat per-signature fee every submitted
// transaction spends from the treasury, on top of the priority fee.
const baseFeeLamports = 5_000

// GuardedAdapter decorates an entity.ChainAdapter with the Treasury
// Guard: transfer submissions to non-whitelisted recipients are refused,
// and every accepted submission is recorded against the monitor's sliding
// drain window with the post-submit treasury balance.
type GuardedAdapter struct {
	inner           entity.ChainAdapter
	monitor         *Monitor
	treasuryAddress string
	logger          *logging.Logger
}

var _ entity.ChainAdapter = (*GuardedAdapter)(nil)

// NewGuardedAdapter wraps inner. treasuryAddress is the account balance
// alerts are computed against; when empty, balance thresholds are skipped
// and only single-transfer and drain thresholds apply.
func NewGuardedAdapter(inner entity.ChainAdapter, monitor *Monitor, treasuryAddress string, logger *logging.Logger) *GuardedAdapter {
	return &GuardedAdapter{inner: inner, monitor: monitor, treasuryAddress: treasuryAddress, logger: logger}
}

func (g *GuardedAdapter) Estimate(ctx context.Context, instructions entity.TxInstructions, urgency entity.Urgency) (*entity.FeeEstimate, error) {
	return g.inner.Estimate(ctx, instructions, urgency)
}

func (g *GuardedAdapter) Build(ctx context.Context, instructions entity.TxInstructions, estimate *entity.FeeEstimate, signer string) (*entity.UnsignedTx, error) {
	return g.inner.Build(ctx, instructions, estimate, signer)
}

// Submit enforces the destination whitelist for value transfers before
// delegating, then records the spend with the monitor. A rejected
// destination is a security event, logged with full detail and surfaced
// as a typed authorization error; the transaction never reaches the chain.
func (g *GuardedAdapter) Submit(ctx context.Context, tx *entity.SignedTx) (string, error) {
	destination := tx.Instructions.Recipient
	if tx.Instructions.Kind == entity.BlockchainTxTransfer {
		if err := g.checkDestination(ctx, tx, destination); err != nil {
			return "", err
		}
	}

	signature, err := g.inner.Submit(ctx, tx)
	if err != nil {
		return "", err
	}

	g.observeSpend(ctx, tx, destination)
	return signature, nil
}

// checkDestination enforces the whitelist for value transfers. Mints and
// burns target addresses this core itself derived (the recipient's
// custodial wallet), so only TRANSFER-kind submissions are gated.
func (g *GuardedAdapter) checkDestination(ctx context.Context, tx *entity.SignedTx, destination string) error {
	if err := g.monitor.CheckDestination(destination); err != nil {
		g.logger.Error(ctx, "treasury: transfer to non-whitelisted destination blocked", err,
			slog.String("destination", destination),
			slog.String("kind", string(tx.Instructions.Kind)),
		)
		return apperr.Wrap(err, codes.PermissionDenied, "destination is not authorized for treasury transfers")
	}
	return nil
}

// observeSpend feeds the monitor the fee this submission spends from the
// treasury: the flat base fee plus priority fee (micro-lamports per
// compute unit) across the budgeted units, in native units.
func (g *GuardedAdapter) observeSpend(ctx context.Context, tx *entity.SignedTx, destination string) {
	lamports := float64(baseFeeLamports) + float64(tx.PriorityFee)*float64(tx.ComputeUnits)/1e6
	amount := lamports / 1e9

	balanceAfter := math.Inf(1)
	if g.treasuryAddress != "" {
		b, err := g.inner.GetBalance(ctx, g.treasuryAddress)
		if err != nil {
			g.logger.Warn(ctx, "treasury: balance lookup failed after submit", slog.Any("error", err))
		} else {
			balanceAfter = b
		}
	}

	g.monitor.Observe(ctx, entity.TreasuryTransaction{
		ID:          uuid.NewString(),
		TenantID:    tx.Instructions.TenantID,
		Destination: destination,
		Amount:      amount,
		OccurredAt:  time.Now(),
	}, balanceAfter)
}

func (g *GuardedAdapter) Confirm(ctx context.Context, signature string, commitment entity.Commitment, timeout time.Duration) (*entity.TxConfirmation, error) {
	return g.inner.Confirm(ctx, signature, commitment, timeout)
}

func (g *GuardedAdapter) GetBalance(ctx context.Context, address string) (float64, error) {
	return g.inner.GetBalance(ctx, address)
}
