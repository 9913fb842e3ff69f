package repository

import (
	"context"
	"database/sql"

	repoerrors "tracksync/internal/infrastructure/errors"
	"tracksync/internal/types"
)

const userColumns = `id, remote_id, email, name, employee, token, token_expires_at, created_at, updated_at`

func scanUser(row scanner) (types.User, error) {
	var (
		u               types.User
		employee, token sql.NullString
		expiresAt       sql.NullTime
	)
	err := row.Scan(&u.ID, &u.RemoteID, &u.Email, &u.Name, &employee, &token, &expiresAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return u, err
	}
	u.Employee = rawJSON(employee)
	u.Token = token.String
	u.TokenExpiresAt = timePtr(expiresAt)
	return u, nil
}

// UpsertUser inserts or refreshes the row keyed by RemoteID
func (r *SQLiteRepository) UpsertUser(ctx context.Context, user *types.User) error {
	if user == nil || user.RemoteID == "" {
		return repoerrors.HandleValidationError("UpsertUser", "remoteId", "remote id is required")
	}

	now := r.now().UTC()
	err := r.run(ctx, "UpsertUser", map[string]string{"remote_id": user.RemoteID}, func() error {
		return r.q.QueryRowContext(ctx,
			`INSERT INTO users (remote_id, email, name, employee, token, token_expires_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (remote_id) DO UPDATE SET
				email = excluded.email,
				name = excluded.name,
				employee = excluded.employee,
				token = excluded.token,
				token_expires_at = excluded.token_expires_at,
				updated_at = excluded.updated_at
			RETURNING id`,
			user.RemoteID, user.Email, user.Name, nullJSON(user.Employee), nullString(user.Token),
			nullTime(user.TokenExpiresAt), now, now).Scan(&user.ID)
	})
	if err != nil {
		return err
	}
	user.UpdatedAt = now
	return nil
}

func (r *SQLiteRepository) RetrieveUser(ctx context.Context) (*types.User, error) {
	return queryOne(ctx, r, "RetrieveUser", scanUser,
		"SELECT "+userColumns+" FROM users ORDER BY updated_at DESC, id DESC LIMIT 1")
}

func (r *SQLiteRepository) FindUserByRemoteID(ctx context.Context, remoteID string) (*types.User, error) {
	user, err := queryOne(ctx, r, "FindUserByRemoteID", scanUser,
		"SELECT "+userColumns+" FROM users WHERE remote_id = ?", remoteID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, repoerrors.HandleNotFound("FindUserByRemoteID", "user", remoteID)
	}
	return user, nil
}

func (r *SQLiteRepository) RemoveUser(ctx context.Context, remoteID string) error {
	_, err := r.exec(ctx, "RemoveUser", map[string]string{"remote_id": remoteID},
		"DELETE FROM users WHERE remote_id = ?", remoteID)
	return err
}
