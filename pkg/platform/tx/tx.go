// Package tx propagates a SQL transaction through context so multiple store
// methods can join one atomic unit without the service touching database/sql
// directly. Stores check From(ctx) and fall back to their pooled handle.
package tx

import (
	"context"
	"database/sql"
	"time"

	dErrors "certmint/pkg/domain-errors"
)

type ctxKey struct{}

var txKey = ctxKey{}

// defaultTimeout bounds a transaction when the caller supplied no deadline.
const defaultTimeout = 5 * time.Second

// WithTx stores a SQL transaction in context for downstream store usage.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey, tx)
}

// From extracts a SQL transaction from context if present.
func From(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey).(*sql.Tx)
	return tx, ok
}

// Runner opens transactions against one database and runs functions inside
// them with the transaction carried in context.
type Runner struct {
	db      *sql.DB
	timeout time.Duration
}

// NewRunner builds a Runner. A zero timeout falls back to the default.
func NewRunner(db *sql.DB, timeout time.Duration) *Runner {
	return &Runner{db: db, timeout: timeout}
}

// RunInTx executes fn inside a transaction. The transaction is injected into
// the context passed to fn, so store methods called with that context join
// it. Rolls back on error, commits otherwise.
func (r *Runner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := r.timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "begin transaction")
	}
	defer func() {
		_ = sqlTx.Rollback()
	}()

	if err := fn(WithTx(ctx, sqlTx)); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "commit transaction")
	}
	return nil
}

// Passthrough satisfies the Runner contract without a database. Memory
// stores guard their own consistency with internal locks, so fn runs on the
// caller's context directly.
type Passthrough struct{}

// RunInTx calls fn with the unmodified context.
func (Passthrough) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
