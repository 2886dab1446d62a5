// Package sessguard is an embeddable session security core: it
// throttles failed sign-in attempts with escalating lockouts, stores
// the authenticated session in tamper-evident form, inspects token
// lifetimes, refreshes tokens before they expire, and signs users out
// after sustained inactivity.
//
// The package is the public surface. It exposes [Guard], [Builder],
// [Config], and the alert and audit types; the mechanics live in the
// throttle, session, codec, token, activity, identity, and storage
// subpackages, which can also be used on their own.
//
// Guard methods are safe to call from multiple goroutines after
// initialization through [Builder.Build]. Background work (token
// refresh, idle tracking) starts on successful [Guard.Login] or
// [Guard.Resume] and stops on [Guard.Logout] or [Guard.Close].
//
// sessguard protects the sign-in flow against unattended retry and
// local tampering. It is not a server-side security boundary: the
// identity provider remains the authority on credentials and token
// validity.
package sessguard
