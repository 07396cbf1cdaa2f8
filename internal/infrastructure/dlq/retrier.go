package dlq

import (
	"context"

	"github.com/ticketcore/scancore/internal/entity"
)

// MintRetrier replays a failed mint job through the Mint Orchestrator.
// The retry resumes the exact entity.RecoveryState the original attempt
// checkpointed: the item's job_id is the orchestrator's recovery key in
// both modes — the caller's idempotency key when one was supplied,
// ticket_id:tenant_id otherwise — so a job that failed after TX_SUBMITTED
// polls the chain for its signature instead of resubmitting.
type MintRetrier struct {
	mint func(ctx context.Context, ticketID, tenantID, idempotencyKey string) error
}

// NewMintRetrier builds a MintRetrier around mint, typically
// usecase.MintUseCase.Mint adapted to drop its result value.
func NewMintRetrier(mint func(ctx context.Context, ticketID, tenantID, idempotencyKey string) error) *MintRetrier {
	return &MintRetrier{mint: mint}
}

var _ Retrier = (*MintRetrier)(nil)

// Retry implements Retrier.
func (r *MintRetrier) Retry(ctx context.Context, item *entity.DLQItem) error {
	// A job_id that differs from the keyless default IS the original
	// idempotency key; passing it back routes the retry through the same
	// idempotency entry and recovery state.
	key := ""
	if item.JobID != item.TicketID+":"+item.TenantID {
		key = item.JobID
	}
	return r.mint(ctx, item.TicketID, item.TenantID, key)
}
