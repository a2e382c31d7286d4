package storage

import (
	"context"
	"fmt"
)

// RunInTx runs fn inside a transaction, committing when fn returns nil and
// rolling back otherwise. fn must only touch the database through tx.
func RunInTx(ctx context.Context, s Storage, fn func(tx Tx) error) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

// WithSavepoint runs fn inside a named savepoint. When fn fails only its own
// writes are undone and the enclosing transaction stays usable.
func WithSavepoint(ctx context.Context, tx Tx, name string, fn func() error) error {
	if err := tx.Savepoint(ctx, name); err != nil {
		return fmt.Errorf("failed to create savepoint %s: %w", name, err)
	}
	if err := fn(); err != nil {
		if rbErr := tx.RollbackTo(ctx, name); rbErr != nil {
			return fmt.Errorf("%w (rollback to savepoint %s failed: %v)", err, name, rbErr)
		}
		_ = tx.Release(ctx, name)
		return err
	}
	if err := tx.Release(ctx, name); err != nil {
		return fmt.Errorf("failed to release savepoint %s: %w", name, err)
	}
	return nil
}
