package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	repoerrors "tracksync/internal/infrastructure/errors"
	"tracksync/internal/infrastructure/logging"
)

const dayLayout = "2006-01-02"

type scanner interface {
	Scan(dest ...any) error
}

// run executes fn under the retry policy, classifying and logging failures.
// Not-found results are returned without being logged.
func (r *SQLiteRepository) run(ctx context.Context, op string, logCtx map[string]string, fn func() error) error {
	start := time.Now()

	err := repoerrors.WithRetryContext(ctx, r.retryConfig, func() error {
		if err := fn(); err != nil {
			repoErr := repoerrors.NewRepositoryErrorWithContext(op, err, repoerrors.ClassifyError(err), logCtx)
			if repoErr.IsRetryable() {
				r.logger.Debug("Retryable store error", "operation", op, "error", err)
			}
			return repoErr
		}
		return nil
	}, op)

	if err != nil {
		if !repoerrors.IsNotFound(err) {
			fields := make(map[string]interface{}, len(logCtx))
			for k, v := range logCtx {
				fields[k] = v
			}
			logging.LogError(r.logger, err, op, fields)
		}
		return err
	}

	logging.LogOperation(r.logger, op, time.Since(start), nil)
	return nil
}

// exec runs a write statement and returns the affected row count
func (r *SQLiteRepository) exec(ctx context.Context, op string, logCtx map[string]string, query string, args ...any) (int64, error) {
	var affected int64
	err := r.run(ctx, op, logCtx, func() error {
		res, err := r.q.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	return affected, err
}

// insert runs an INSERT and returns the new row id
func (r *SQLiteRepository) insert(ctx context.Context, op string, logCtx map[string]string, query string, args ...any) (int64, error) {
	var id int64
	err := r.run(ctx, op, logCtx, func() error {
		res, err := r.q.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// count runs a single-column integer query
func (r *SQLiteRepository) count(ctx context.Context, op, query string, args ...any) (int, error) {
	var n int
	err := r.run(ctx, op, nil, func() error {
		return r.q.QueryRowContext(ctx, query, args...).Scan(&n)
	})
	return n, err
}

// queryList scans every row of query with scan
func queryList[T any](ctx context.Context, r *SQLiteRepository, op string, scan func(scanner) (T, error), query string, args ...any) ([]T, error) {
	var out []T
	err := r.run(ctx, op, nil, func() error {
		out = out[:0]
		rows, err := r.q.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			item, err := scan(rows)
			if err != nil {
				return err
			}
			out = append(out, item)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []T{}
	}
	return out, nil
}

// queryOne scans a single row; nil without error when nothing matches
func queryOne[T any](ctx context.Context, r *SQLiteRepository, op string, scan func(scanner) (T, error), query string, args ...any) (*T, error) {
	var item T
	err := r.run(ctx, op, nil, func() error {
		var err error
		item, err = scan(r.q.QueryRowContext(ctx, query, args...))
		return err
	})
	if repoerrors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func nullJSON(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

func rawJSON(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}
