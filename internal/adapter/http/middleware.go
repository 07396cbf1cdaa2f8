package http

import (
	"net/http"
	"strings"

	"github.com/ticketcore/scancore/internal/infrastructure/auth"
)

// BearerAuth validates the Authorization header's bearer token via
// validator and attaches both the raw claims and the derived
// entity.StaffContext to the request context. Requests with no
// Authorization header pass through unauthenticated (device-initiated
// scans carry no staff principal); an invalid token is rejected with 401
// rather than silently treated as anonymous.
func BearerAuth(validator auth.TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}

			claims, err := validator.ValidateToken(r.Context(), token)
			if err != nil {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}

			ctx := auth.WithClaims(r.Context(), claims)
			ctx = auth.WithStaffContext(ctx, claims.StaffContext())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
