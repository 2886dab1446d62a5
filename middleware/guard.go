package middleware

import (
	"context"
	"net/http"

	"github.com/sessguard/sessguard"
	"github.com/sessguard/sessguard/session"
)

type userContextKey struct{}

// UserFromContext returns the profile injected by RequireAuth.
func UserFromContext(ctx context.Context) (*session.UserProfile, bool) {
	user, ok := ctx.Value(userContextKey{}).(*session.UserProfile)
	return user, ok
}

// RequireAuth admits only authenticated requests. Each admitted
// request counts as user activity for idle tracking, and the profile
// is injected into the request context.
func RequireAuth(guard *sessguard.Guard) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if guard == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			user, err := guard.CurrentUser(r.Context())
			if err != nil || !guard.IsAuthenticated(r.Context()) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			guard.Touch()
			ctx := context.WithValue(r.Context(), userContextKey{}, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RedirectToLogin behaves like RequireAuth but sends unauthenticated
// requests to loginPath instead of failing, remembering the requested
// route so sign-in can return to it.
func RedirectToLogin(guard *sessguard.Guard, loginPath string) func(http.Handler) http.Handler {
	authed := RequireAuth(guard)
	return func(next http.Handler) http.Handler {
		protected := authed(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if guard != nil && !guard.IsAuthenticated(r.Context()) {
				// Best-effort; losing the route only costs convenience.
				_ = guard.RememberRoute(r.Context(), r.URL.Path)
				http.Redirect(w, r, loginPath, http.StatusFound)
				return
			}
			protected.ServeHTTP(w, r)
		})
	}
}
