package storage

import (
	"context"
	"errors"
	"fmt"
)

// TxBeginner is anything that can open a Tx
type TxBeginner interface {
	BeginTx(ctx context.Context) (Tx, error)
}

// WithTransaction executes fn within a transaction.
// It commits on success and rolls back on error or panic. A failed rollback
// is joined with the original error.
func WithTransaction(ctx context.Context, db TxBeginner, fn func(tx Tx) error) error {
	tx, err := db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
