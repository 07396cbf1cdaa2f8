package rdb

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pannpers/go-apperr/apperr"
	"github.com/pannpers/go-apperr/apperr/codes"

	"github.com/ticketcore/scancore/internal/entity"
)

// querier is the subset of *pgxpool.Pool and pgx.Tx every repository
// method needs, letting a method run against either a bare connection or
// an open transaction without caring which.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txKey struct{}

// querierFrom returns the transaction stashed on ctx by TxRunner.RunInTx,
// falling back to db's pool for reads that don't need cross-repository
// atomicity (e.g. the initial device lookup, before a tenant is known).
func querierFrom(ctx context.Context, db *Database) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return db.Pool
}

// TxRunner implements entity.TxRunner by opening a pgx transaction,
// setting the row-level tenant filter for its duration via set_config,
// and stashing the transaction on ctx for repositories to pick up.
type TxRunner struct {
	db *Database
}

var _ entity.TxRunner = (*TxRunner)(nil)

// NewTxRunner builds a TxRunner over db.
func NewTxRunner(db *Database) *TxRunner {
	return &TxRunner{db: db}
}

// tenantSessionVar is the single session variable name row-level security
// policies filter on. An earlier generation of migrations used
// app.current_tenant for some tables and app.current_tenant_id for
// others; this core standardizes on the latter.
const tenantSessionVar = "app.current_tenant_id"

// RunInTx opens a transaction, sets tenantSessionVar to tenantID for its
// duration, runs fn, and commits iff fn returns nil.
func (r *TxRunner) RunInTx(ctx context.Context, tenantID string, fn func(ctx context.Context) error) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return toAppErr(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `SELECT set_config($1, $2, true)`, tenantSessionVar, tenantID); err != nil {
		return toAppErr(err, "failed to set tenant session context")
	}

	txCtx := context.WithValue(ctx, txKey{}, tx)
	if err := fn(txCtx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return toAppErr(err, "failed to commit transaction")
	}
	return nil
}

// errRowsAffected returns a not-found-flavored error when an UPDATE/DELETE
// that was expected to touch exactly one row touched zero, distinguishing
// "no such row in this tenant" from a genuine query failure.
func errRowsAffected(tag pgconn.CommandTag, noun string) error {
	if tag.RowsAffected() == 0 {
		return apperr.New(codes.NotFound, noun+": no matching row")
	}
	return nil
}
