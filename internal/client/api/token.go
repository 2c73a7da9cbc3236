package api

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSource supplies the bearer token for each request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed token. When it is a JWT whose exp claim has passed
// Token fails with ErrUnauthorized instead of letting the backend reject
// every request.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	if TokenExpired(string(t), time.Now()) {
		return "", ErrUnauthorized
	}
	return string(t), nil
}

// TokenExpired reads the exp claim without verifying the signature; the
// backend does the verification. Tokens that are not JWTs never expire here.
func TokenExpired(token string, now time.Time) bool {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return !now.Before(claims.ExpiresAt.Time)
}
