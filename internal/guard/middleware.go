package guard

import (
	"encoding/json"
	"net/http"

	"github.com/praxia-health/platform/internal/shared/auth"
)

// Middleware wraps a route subtree with a guard decision. Denials return
// 403 with the reason and the role-appropriate redirect target; the
// frontend follows the redirect.
func (g *Guard) Middleware(route RouteConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := auth.GetUser(r.Context())
			if user == nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]string{"error": "authentication required"})
				return
			}

			decision, err := g.CheckAccess(r.Context(), user, route)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				json.NewEncoder(w).Encode(map[string]string{"error": "access check failed"})
				return
			}
			if !decision.Allowed {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				json.NewEncoder(w).Encode(decision)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
