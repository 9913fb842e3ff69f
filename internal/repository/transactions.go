package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	repoerrors "tracksync/internal/infrastructure/errors"
	"tracksync/internal/infrastructure/logging"
)

// single attempt per statement inside a transaction; the whole transaction is retried instead
var noRetry = &repoerrors.RetryConfig{MaxAttempts: 1}

// WithTransaction runs fn inside a transaction, retrying the whole unit on
// busy or connection failures. Nested calls reuse the outer transaction.
func (r *SQLiteRepository) WithTransaction(ctx context.Context, fn func(tx Store) error) error {
	if r.inTx {
		return fn(r)
	}

	start := time.Now()
	err := repoerrors.WithRetryContext(ctx, r.retryConfig, func() error {
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return repoerrors.NewRepositoryError("WithTransaction.Begin", err, repoerrors.ClassifyError(err))
		}

		committed := false
		defer func() {
			if committed {
				return
			}
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				r.logger.Debug("Failed to rollback transaction", "rollback_error", rbErr)
			}
		}()

		txRepo := &SQLiteRepository{
			db:          r.db,
			q:           tx,
			inTx:        true,
			retryConfig: noRetry,
			logger:      r.logger,
			now:         r.now,
		}

		if err := fn(txRepo); err != nil {
			r.logger.Debug("Transaction function failed", "error", err)
			return err
		}

		if err := tx.Commit(); err != nil {
			repoErr := repoerrors.NewRepositoryError("WithTransaction.Commit", err, repoerrors.ClassifyError(err))
			if !repoErr.IsRetryable() {
				logging.LogError(r.logger, repoErr, "WithTransaction.Commit", nil)
			}
			return repoErr
		}
		committed = true
		return nil
	}, "WithTransaction")

	if err == nil {
		logging.LogOperation(r.logger, "WithTransaction", time.Since(start), nil)
	}
	return err
}
