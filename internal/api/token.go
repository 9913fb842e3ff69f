package api

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"tracksync/internal/repository"
)

// TokenSource supplies the bearer token for each call
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken always returns itself
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	if t == "" {
		return "", fmt.Errorf("%w: no token configured", ErrUnauthorized)
	}
	return string(t), nil
}

// UserTokenSource reads the token of the cached user
type UserTokenSource struct {
	Users repository.UserRepository
}

func (s UserTokenSource) Token(ctx context.Context) (string, error) {
	user, err := s.Users.RetrieveUser(ctx)
	if err != nil {
		return "", err
	}
	if user == nil || user.Token == "" {
		return "", fmt.Errorf("%w: no signed-in user", ErrUnauthorized)
	}
	return user.Token, nil
}

// tokenExpired reads exp without verifying the signature; the server does that.
// Tokens that are not JWTs are passed through.
func tokenExpired(token string, now time.Time) bool {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return false
	}
	return claims.ExpiresAt != nil && !claims.ExpiresAt.After(now)
}
