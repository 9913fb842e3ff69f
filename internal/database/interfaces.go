package database

import (
	"context"
	"database/sql"
)

// Service manages the local store connection, schema and maintenance
type Service interface {
	Connect(ctx context.Context, config *Config) error
	Close() error
	Health(ctx context.Context) error

	DB() *sql.DB

	Migrate(ctx context.Context) error
	Rollback(ctx context.Context) error
	GetMigrationVersion(ctx context.Context) (int64, error)

	Optimize(ctx context.Context) error
	GetStats() sql.DBStats
}

// MigrationManager applies and reverts schema migrations
type MigrationManager interface {
	RunMigrations(ctx context.Context) error
	Rollback(ctx context.Context) error
	GetCurrentVersion(ctx context.Context) (int64, error)
	ValidateMigrations() error
}
