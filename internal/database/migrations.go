package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sync"

	"tracksync/internal/infrastructure/logging"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

const migrationsDir = "migrations"

// ErrMigrationFailed is returned when the schema cannot be brought to the
// embedded version. Callers treat it as fatal.
var ErrMigrationFailed = errors.New("migration failed")

// goose keeps dialect and filesystem in package globals, so configure them once
var (
	gooseConfigOnce sync.Once
	gooseConfigErr  error
)

// MigrationRunner applies the embedded goose migrations
type MigrationRunner struct {
	db     *sql.DB
	logger logging.Logger
}

var _ MigrationManager = (*MigrationRunner)(nil)

func NewMigrationRunner(db *sql.DB, logger logging.Logger) *MigrationRunner {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	gooseConfigOnce.Do(func() {
		goose.SetBaseFS(embedMigrations)
		goose.SetLogger(goose.NopLogger())
		if err := goose.SetDialect("sqlite3"); err != nil {
			gooseConfigErr = fmt.Errorf("failed to set dialect: %w", err)
		}
	})

	return &MigrationRunner{db: db, logger: logger}
}

func (mr *MigrationRunner) ready() error {
	if mr.db == nil {
		return fmt.Errorf("%w: database connection is nil", ErrMigrationFailed)
	}
	if gooseConfigErr != nil {
		return fmt.Errorf("%w: goose configuration: %v", ErrMigrationFailed, gooseConfigErr)
	}
	return nil
}

// RunMigrations applies every pending migration in version order. Each
// migration runs in its own transaction, so a failing step leaves the schema
// at the last version that succeeded.
func (mr *MigrationRunner) RunMigrations(ctx context.Context) error {
	if err := mr.ready(); err != nil {
		return err
	}

	mr.logger.Info("Running database migrations")
	if err := goose.UpContext(ctx, mr.db, migrationsDir); err != nil {
		version, _ := goose.GetDBVersionContext(ctx, mr.db)
		mr.logger.Error("Migration aborted", "error", err, "version", version)
		return fmt.Errorf("%w: %v", ErrMigrationFailed, err)
	}

	if version, err := goose.GetDBVersionContext(ctx, mr.db); err == nil {
		mr.logger.Info("Database migrated", "version", version)
	}
	return nil
}

// Rollback reverts the most recently applied migration
func (mr *MigrationRunner) Rollback(ctx context.Context) error {
	if err := mr.ready(); err != nil {
		return err
	}

	if err := goose.DownContext(ctx, mr.db, migrationsDir); err != nil {
		return fmt.Errorf("%w: rollback: %v", ErrMigrationFailed, err)
	}

	if version, err := goose.GetDBVersionContext(ctx, mr.db); err == nil {
		mr.logger.Info("Database rolled back", "version", version)
	}
	return nil
}

// GetCurrentVersion returns the applied schema version
func (mr *MigrationRunner) GetCurrentVersion(ctx context.Context) (int64, error) {
	if err := mr.ready(); err != nil {
		return 0, err
	}

	version, err := goose.GetDBVersionContext(ctx, mr.db)
	if err != nil {
		return 0, fmt.Errorf("failed to get version: %w", err)
	}
	return version, nil
}

// ValidateMigrations checks that the embedded set parses and is not empty
func (mr *MigrationRunner) ValidateMigrations() error {
	if gooseConfigErr != nil {
		return fmt.Errorf("%w: goose configuration: %v", ErrMigrationFailed, gooseConfigErr)
	}

	migrations, err := goose.CollectMigrations(migrationsDir, 0, goose.MaxVersion)
	if err != nil {
		return fmt.Errorf("%w: collect: %v", ErrMigrationFailed, err)
	}
	if len(migrations) == 0 {
		return fmt.Errorf("%w: no migrations embedded", ErrMigrationFailed)
	}

	mr.logger.Debug("Embedded migrations found", "count", len(migrations))
	return nil
}
