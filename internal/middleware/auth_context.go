package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"vet-practice-records/internal/apperr"
	"vet-practice-records/internal/platform/httpjson"
	"vet-practice-records/internal/platform/logger"
	"vet-practice-records/internal/ports/auth"
)

type ctxKey string

const claimsKey ctxKey = "claims"

// Headers de modo dev (sin verifier).
const (
	DebugUserHeader  = "X-Debug-User-ID"
	DebugEmailHeader = "X-Debug-Email"
)

// AuthContext:
// - Si verifier != nil y viene Bearer token => intenta Verify() y setea claims.
// - Si verifier == nil => modo dev: X-Debug-User-ID (+ X-Debug-Email opcional) => claims.
// - Token inválido (auth.ErrInvalidCredential) => sigue sin claims; el guard
//   responde UNAUTHENTICATED en las operaciones que exigen auth.
// - Cualquier otra falla del verifier (proveedor caído, config) => 500 INTERNAL
//   y se loguea; no se disfraza de 401.
func AuthContext(verifier auth.AuthVerifier, log logger.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = logger.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if verifier == nil {
				if uid := strings.TrimSpace(r.Header.Get(DebugUserHeader)); uid != "" {
					claims := auth.Claims{
						UserID: uid,
						Email:  strings.ToLower(strings.TrimSpace(r.Header.Get(DebugEmailHeader))),
					}
					next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
					return
				}

				next.ServeHTTP(w, r)
				return
			}

			token := bearerToken(r.Header.Get("Authorization"))
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := verifier.Verify(r.Context(), token)
			if err != nil {
				if errors.Is(err, auth.ErrInvalidCredential) {
					next.ServeHTTP(w, r)
					return
				}
				httpjson.WriteError(w, r, log, apperr.Internal(fmt.Errorf("verify token: %w", err)))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

func WithClaims(ctx context.Context, c auth.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

func GetClaims(ctx context.Context) (auth.Claims, bool) {
	v := ctx.Value(claimsKey)
	if v == nil {
		return auth.Claims{}, false
	}
	c, ok := v.(auth.Claims)
	return c, ok
}

func bearerToken(authHeader string) string {
	if strings.TrimSpace(authHeader) == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
