package auth

import (
	"context"
	"net/http"
	"strings"
)

type ctxKey string

const authContextKey ctxKey = "auth_context"

// FromContext extracts the Context set by Middleware.
func FromContext(ctx context.Context) (Context, bool) {
	ac, ok := ctx.Value(authContextKey).(Context)
	return ac, ok
}

// WithContext attaches ac to ctx the same way Middleware does. Exported
// for tests that need to exercise handlers without a real token.
func WithContext(ctx context.Context, ac Context) context.Context {
	return context.WithValue(ctx, authContextKey, ac)
}

// Middleware decodes the Authorization header's bearer token and
// attaches the resulting Context to the request. It does not enforce
// any particular scope — handlers call RequireScope themselves, since
// different endpoints require different scopes.
func Middleware(v *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(header, prefix) {
				writeUnauthorized(w, "missing bearer token")
				return
			}

			token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
			ac, err := v.DecodeBearerToken(token)
			if err != nil {
				writeUnauthorized(w, err.Message)
				return
			}

			ctx := context.WithValue(r.Context(), authContextKey, ac)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
