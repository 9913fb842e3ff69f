package repository

import (
	"context"
	"database/sql"
	"time"

	"tracksync/internal/database"
	repoerrors "tracksync/internal/infrastructure/errors"
	"tracksync/internal/infrastructure/logging"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteRepository implements Store on top of database/sql
type SQLiteRepository struct {
	db          *sql.DB
	q           dbtx
	inTx        bool
	retryConfig *repoerrors.RetryConfig
	logger      logging.Logger
	now         func() time.Time
}

var _ Store = (*SQLiteRepository)(nil)

// NewSQLiteRepository binds a repository to a connected database service
func NewSQLiteRepository(dbService database.Service, logger logging.Logger) *SQLiteRepository {
	return NewSQLiteRepositoryWithConfig(dbService, nil, logger)
}

// NewSQLiteRepositoryWithConfig is NewSQLiteRepository with a custom retry policy
func NewSQLiteRepositoryWithConfig(dbService database.Service, retryConfig *repoerrors.RetryConfig, logger logging.Logger) *SQLiteRepository {
	if retryConfig == nil {
		retryConfig = repoerrors.DefaultRetryConfig()
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}

	db := dbService.DB()
	return &SQLiteRepository{
		db:          db,
		q:           db,
		retryConfig: retryConfig,
		logger:      logger,
		now:         time.Now,
	}
}

// SetRetryConfig replaces the retry policy; nil is ignored
func (r *SQLiteRepository) SetRetryConfig(config *repoerrors.RetryConfig) {
	if config != nil {
		r.retryConfig = config
	}
}

func (r *SQLiteRepository) SetLogger(logger logging.Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// SetClock overrides the timestamp source used for created_at/updated_at
func (r *SQLiteRepository) SetClock(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}
