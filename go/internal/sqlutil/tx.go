package sqlutil

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Run applies one batch of leaf replacements atomically. fn receives the
// queries bound to a new transaction, which commits only if fn returns nil;
// otherwise it is rolled back and a failed rollback is joined to fn's error.
func Run[Q any](
	ctx context.Context,
	db *sql.DB,
	bind func(*sql.Tx) *Q,
	fn func(q *Q) error,
) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(bind(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
