package database

import (
	"context"
	"database/sql"
	"time"

	dErrors "commandbridge/pkg/domain-errors"
)

const defaultTxTimeout = 5 * time.Second

// RunInTx runs fn inside a transaction, committing on nil and rolling back
// otherwise. A default timeout applies when ctx carries no deadline.
func RunInTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultTxTimeout)
		defer cancel()
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // rollback after commit is no-op; error already captured
	}()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
