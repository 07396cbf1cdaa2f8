package entity

import "context"

// TxRunner executes fn inside a single database transaction with the
// session's row-level tenant filter set to tenantID for its duration,
// satisfying the "set tenant context before any tenant-scoped query"
// policy. Repository methods called from within fn participate in the
// same transaction by reading it back off ctx.
type TxRunner interface {
	RunInTx(ctx context.Context, tenantID string, fn func(ctx context.Context) error) error
}
