package repository

import (
	"context"
	"testing"
	"time"

	"tracksync/internal/database"
	repoerrors "tracksync/internal/infrastructure/errors"
	"tracksync/internal/infrastructure/logging"
	"tracksync/internal/types"

	"github.com/stretchr/testify/require"
)

func setupTestRepository(t *testing.T) *SQLiteRepository {
	t.Helper()

	dbService := database.NewSQLiteService(logging.NewNopLogger())
	ctx := context.Background()
	require.NoError(t, dbService.Connect(ctx, database.TestConfig()))
	require.NoError(t, dbService.Migrate(ctx))
	t.Cleanup(func() { dbService.Close() })

	repo := NewSQLiteRepositoryWithConfig(dbService, &repoerrors.RetryConfig{
		MaxAttempts:     2,
		InitialDelay:    time.Millisecond,
		MaxDelay:        time.Millisecond,
		BackoffFactor:   1,
		RetryableErrors: []repoerrors.ErrorCode{repoerrors.ErrCodeBusy},
	}, logging.NewNopLogger())
	return repo
}

func newTimer(started time.Time) *types.Timer {
	return &types.Timer{
		EmployeeID: "emp-1",
		ProjectID:  "proj-1",
		StartedAt:  started,
		Version:    "1.0.0",
	}
}

func stopAt(t time.Time) *time.Time {
	return &t
}

func ptr[T any](v T) *T {
	return &v
}
