// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package proxyserver

import (
	"context"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type ctxKey string

const ctxAdminSubjectKey ctxKey = "proxyserver.admin_subject"

// adminClaims is the expected shape of a bearer token authorizing access
// to /admin/* routes.
type adminClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// requireAdmin wraps next so every request must carry a Bearer JWT signed
// with ADMIN_JWT_SECRET and claiming role "admin", following
// internal/app/httpapi/auth.go's extract-token-then-validate shape,
// narrowed from that file's multi-tenant token-set-or-JWT dual path down
// to a single JWT validator scoped to the admin surface.
func requireAdmin(next http.Handler) http.Handler {
	secret := os.Getenv("ADMIN_JWT_SECRET")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if secret == "" {
			writeError(w, http.StatusServiceUnavailable, "admin auth is not configured (ADMIN_JWT_SECRET unset)")
			return
		}
		token := extractBearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims := &adminClaims{}
		parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		})
		if err != nil || !parsed.Valid {
			writeError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}
		if claims.Role != "admin" {
			writeError(w, http.StatusForbidden, "token does not grant admin role")
			return
		}
		ctx := context.WithValue(r.Context(), ctxAdminSubjectKey, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, prefix))
}
