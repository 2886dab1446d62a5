package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sessguard/sessguard"
	"github.com/sessguard/sessguard/identity"
	"github.com/sessguard/sessguard/session"
)

type staticIdentity struct {
	grant *identity.Grant
}

func (s *staticIdentity) Login(ctx context.Context, creds identity.Credentials) (*identity.Grant, error) {
	return s.grant, nil
}

func (s *staticIdentity) Refresh(ctx context.Context, refreshToken string) (*identity.Grant, error) {
	return s.grant, nil
}

func newGuard(t *testing.T) *sessguard.Guard {
	t.Helper()

	claims := jwt.RegisteredClaims{
		Subject:   "u-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("signing test token failed: %v", err)
	}

	guard, err := sessguard.New().
		WithIdentityClient(&staticIdentity{grant: &identity.Grant{
			Token: token,
			User: session.UserProfile{
				Username: "alice",
				Grants:   []session.RoleGrant{{RoleID: 1}},
			},
		}}).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(guard.Close)
	return guard
}

func okHandler(t *testing.T, served *bool) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*served = true
		if user, ok := UserFromContext(r.Context()); !ok || user.Username != "alice" {
			t.Error("expected profile in request context")
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireAuth(t *testing.T) {
	guard := newGuard(t)

	var served bool
	handler := RequireAuth(guard)(okHandler(t, &served))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reports", nil))
	if rec.Code != http.StatusUnauthorized || served {
		t.Fatalf("expected 401 for anonymous request, got %d", rec.Code)
	}

	if _, err := guard.Login(context.Background(), "alice", "s3cret"); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reports", nil))
	if rec.Code != http.StatusOK || !served {
		t.Fatalf("expected 200 for authenticated request, got %d", rec.Code)
	}
}

func TestRequireRole(t *testing.T) {
	guard := newGuard(t)
	if _, err := guard.Login(context.Background(), "alice", "s3cret"); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	var served bool
	granted := RequireRole(guard, 1)(okHandler(t, &served))
	rec := httptest.NewRecorder()
	granted.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with granted role, got %d", rec.Code)
	}

	denied := RequireRole(guard, 9)(okHandler(t, &served))
	rec = httptest.NewRecorder()
	denied.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin", nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without role, got %d", rec.Code)
	}
}

func TestRedirectToLogin(t *testing.T) {
	guard := newGuard(t)

	var served bool
	handler := RedirectToLogin(guard, "/auth/login")(okHandler(t, &served))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reports/7", nil))
	if rec.Code != http.StatusFound {
		t.Fatalf("expected redirect for anonymous request, got %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/auth/login" {
		t.Fatalf("unexpected redirect target %q", loc)
	}

	// The requested route is remembered and returned by sign-in.
	result, err := guard.Login(context.Background(), "alice", "s3cret")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if result.ReturnRoute != "/reports/7" {
		t.Fatalf("expected remembered route, got %q", result.ReturnRoute)
	}
}
