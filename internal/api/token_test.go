package api

import (
	"context"
	"errors"
	"testing"

	"tracksync/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUsers struct {
	user *types.User
	err  error
}

func (f *fakeUsers) UpsertUser(context.Context, *types.User) error { return nil }
func (f *fakeUsers) RetrieveUser(context.Context) (*types.User, error) {
	return f.user, f.err
}
func (f *fakeUsers) FindUserByRemoteID(context.Context, string) (*types.User, error) {
	return f.user, f.err
}
func (f *fakeUsers) RemoveUser(context.Context, string) error { return nil }

func TestUserTokenSource(t *testing.T) {
	ctx := context.Background()

	token, err := UserTokenSource{Users: &fakeUsers{user: &types.User{RemoteID: "u-1", Token: "abc"}}}.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc", token)

	_, err = UserTokenSource{Users: &fakeUsers{}}.Token(ctx)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = UserTokenSource{Users: &fakeUsers{user: &types.User{RemoteID: "u-1"}}}.Token(ctx)
	assert.ErrorIs(t, err, ErrUnauthorized)

	boom := errors.New("db closed")
	_, err = UserTokenSource{Users: &fakeUsers{err: boom}}.Token(ctx)
	assert.ErrorIs(t, err, boom)
}
