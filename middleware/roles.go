package middleware

import (
	"net/http"

	"github.com/sessguard/sessguard"
)

// RequireRole admits only authenticated users carrying at least one
// of the given roles. Missing roles answer 403, missing sessions 401.
func RequireRole(guard *sessguard.Guard, roleIDs ...int) func(http.Handler) http.Handler {
	authed := RequireAuth(guard)
	return func(next http.Handler) http.Handler {
		return authed(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !guard.HasAnyRole(r.Context(), roleIDs...) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}
