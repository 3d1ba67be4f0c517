package auth

import (
	"net/http"
	"strings"

	"github.com/openadex/salesagent/pkg/api"
)

// NewMiddleware creates JWT bearer middleware. Paths in public skip
// authentication. A nil validator rejects every non-public request.
func NewMiddleware(validator *Validator, public ...string) func(http.Handler) http.Handler {
	publicSet := make(map[string]bool, len(public))
	for _, p := range public {
		publicSet[p] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicSet[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			if header == "" {
				api.WriteUnauthorized(w, "Missing Authorization header")
				return
			}
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				api.WriteUnauthorized(w, "Invalid Authorization header format (expected 'Bearer <token>')")
				return
			}

			if validator == nil {
				api.WriteUnauthorized(w, "Authentication not configured")
				return
			}

			claims, err := validator.Validate(parts[1])
			if err != nil {
				api.WriteUnauthorized(w, "Invalid or expired token")
				return
			}

			principal := Principal{
				Subject:  claims.Subject,
				TenantID: claims.TenantID,
				Roles:    claims.Roles,
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

// RequireRole gates a handler on a role. Runs inside NewMiddleware, so
// a missing principal means auth was bypassed somewhere and the only
// safe answer is no.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFrom(r.Context())
			if !ok {
				api.WriteUnauthorized(w, "")
				return
			}
			if !p.HasRole(role) {
				api.WriteForbidden(w, "the "+role+" role is required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CallerFromRequest adapts the context principal to the API server's
// caller resolver.
func CallerFromRequest(r *http.Request) (api.Caller, error) {
	p, ok := PrincipalFrom(r.Context())
	if !ok {
		return api.Caller{}, nil
	}
	return api.Caller{TenantID: p.TenantID, Actor: p.Subject}, nil
}
