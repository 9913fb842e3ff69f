package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	repoerrors "tracksync/internal/infrastructure/errors"
	"tracksync/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertUser_KeyedByRemoteID(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()

	expires := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	user := &types.User{
		RemoteID:       "u-1",
		Email:          "ada@example.test",
		Name:           "Ada",
		Employee:       json.RawMessage(`{"id":"emp-1"}`),
		Token:          "token-1",
		TokenExpiresAt: &expires,
	}
	require.NoError(t, repo.UpsertUser(ctx, user))
	firstID := user.ID
	require.NotZero(t, firstID)

	updated := &types.User{RemoteID: "u-1", Email: "ada@new.test", Name: "Ada L", Token: "token-2"}
	require.NoError(t, repo.UpsertUser(ctx, updated))
	assert.Equal(t, firstID, updated.ID)

	got, err := repo.FindUserByRemoteID(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, "ada@new.test", got.Email)
	assert.Equal(t, "Ada L", got.Name)
	assert.Equal(t, "token-2", got.Token)
	assert.Nil(t, got.Employee)
	assert.Nil(t, got.TokenExpiresAt)
}

func TestUpsertUser_RequiresRemoteID(t *testing.T) {
	repo := setupTestRepository(t)

	assert.True(t, repoerrors.IsValidation(repo.UpsertUser(context.Background(), &types.User{Email: "x@example.test"})))
	assert.True(t, repoerrors.IsValidation(repo.UpsertUser(context.Background(), nil)))
}

func TestRetrieveUser(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()

	none, err := repo.RetrieveUser(ctx)
	require.NoError(t, err)
	assert.Nil(t, none)

	clock := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	repo.SetClock(func() time.Time { return clock })
	require.NoError(t, repo.UpsertUser(ctx, &types.User{RemoteID: "u-1", Name: "First"}))
	clock = clock.Add(time.Minute)
	require.NoError(t, repo.UpsertUser(ctx, &types.User{RemoteID: "u-2", Name: "Second"}))

	got, err := repo.RetrieveUser(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "u-2", got.RemoteID)
}

func TestRemoveUser(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.UpsertUser(ctx, &types.User{RemoteID: "u-1"}))
	require.NoError(t, repo.RemoveUser(ctx, "u-1"))

	_, err := repo.FindUserByRemoteID(ctx, "u-1")
	assert.True(t, repoerrors.IsNotFound(err))
}
