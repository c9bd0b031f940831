package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Tx is one unit of work. Repository methods live on Tx so that everything a
// message or caseworker action changes commits together.
type Tx struct {
	tx pgx.Tx
}

// WithTx runs fn in a transaction and commits if fn returns nil. Serialization
// failures and deadlocks rerun fn from the start in a fresh transaction.
func (db *DB) WithTx(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	return WithRetry(ctx, txMaxRetries, txBaseDelay, func() error {
		tx, err := db.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
		if err != nil {
			return fmt.Errorf("storage: begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		if err := fn(ctx, &Tx{tx: tx}); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("storage: commit tx: %w", err)
		}
		return nil
	})
}
