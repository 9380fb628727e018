package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// Transactor hands out pgx transactions for multi-statement units of work.
// The ledger relies on it to hold a balance row lock across the balance
// update and the transaction-log insert.
type Transactor struct {
	pool Pool
}

func NewTransactor(pool Pool) *Transactor {
	return &Transactor{pool: pool}
}

// Begin opens a transaction. Callers defer Rollback and Commit explicitly;
// Rollback after a successful Commit is a no-op.
func (t *Transactor) Begin(ctx context.Context) (pgx.Tx, error) {
	return t.pool.Begin(ctx)
}
