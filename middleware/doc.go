// Package middleware exposes HTTP route guards built on top of the
// sessguard session state.
//
// # Guards
//
//   - [RequireAuth] rejects unauthenticated requests with 401.
//   - [RequireRole] additionally enforces role membership with 403.
//   - [RedirectToLogin] redirects instead of rejecting, remembering
//     the requested route for the next sign-in.
//
// Each admitted request is reported as user activity so idle tracking
// keeps working for HTTP surfaces. The signed-in profile is injected
// into the request context and retrievable with [UserFromContext].
//
// This package translates HTTP semantics into Guard calls. It makes
// no authentication decisions of its own.
package middleware
