package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/onnwee/courseledger/internal/auth"
)

// authError mirrors the API error envelope. Defined here rather than imported
// to keep the middleware package free of a dependency cycle with api.
type authError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	var resp authError
	resp.Error.Code = code
	resp.Error.Message = message
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// RequireAdmin validates the Bearer token and requires the admin role. On
// success the subject claim is stored in the context for handlers and the
// logging middleware; everything else gets a 401 or 403.
func RequireAdmin(jwtService *auth.JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" || !strings.HasPrefix(header, "Bearer ") {
				ctx := SetErrorCode(r.Context(), "auth_failed")
				UpdateResponseContext(w, ctx)
				writeAuthError(w, http.StatusUnauthorized, "auth_failed", "missing bearer token")
				return
			}

			claims, err := jwtService.ValidateToken(strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				code := "auth_failed"
				message := "invalid token"
				if errors.Is(err, auth.ErrExpiredToken) {
					message = "token has expired"
				}
				ctx := SetErrorCode(r.Context(), code)
				UpdateResponseContext(w, ctx)
				writeAuthError(w, http.StatusUnauthorized, code, message)
				return
			}

			if claims.Type != auth.TokenTypeAccess {
				ctx := SetErrorCode(r.Context(), "auth_failed")
				UpdateResponseContext(w, ctx)
				writeAuthError(w, http.StatusUnauthorized, "auth_failed", "access token required")
				return
			}

			if claims.Role != auth.RoleAdmin {
				ctx := SetErrorCode(r.Context(), "forbidden")
				UpdateResponseContext(w, ctx)
				writeAuthError(w, http.StatusForbidden, "forbidden", "admin role required")
				return
			}

			ctx := SetUserUID(r.Context(), claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
