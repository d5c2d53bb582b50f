package auth

import (
	"context"
	"errors"
)

// ErrInvalidCredential lo devuelven los verificadores cuando el token no sirve.
var ErrInvalidCredential = errors.New("invalid credential")

// AuthVerifier verifica un token y devuelve claims o error.
type AuthVerifier interface {
	Verify(ctx context.Context, token string) (Claims, error)
}
