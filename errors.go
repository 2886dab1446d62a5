package sessguard

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials is returned when the identity provider
	// rejects the submitted username/password pair.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrThrottled is returned when the identity key is blocked by the
	// attempt throttle. Login returns it wrapped in a ThrottledError.
	ErrThrottled = errors.New("too many failed attempts")
	// ErrProviderUnavailable is returned when the identity provider
	// cannot be reached. During login the attempt still counts toward
	// the throttle so induced timeouts cannot bypass it.
	ErrProviderUnavailable = errors.New("identity provider unavailable")
	// ErrNotAuthenticated is returned by operations that require an
	// active session when none exists.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrSessionIntegrity is returned when stored session data failed
	// its integrity check and was discarded.
	ErrSessionIntegrity = errors.New("session integrity check failed")
	// ErrRefreshRejected is returned when the provider refuses a token
	// refresh. The session is terminated before it is returned.
	ErrRefreshRejected = errors.New("token refresh rejected")
	// ErrGuardClosed is returned by operations on a closed guard.
	ErrGuardClosed = errors.New("guard closed")
)

// ThrottledError carries how long the caller must wait before the
// blocked key accepts attempts again. It matches ErrThrottled under
// errors.Is.
type ThrottledError struct {
	Key        string
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("too many failed attempts, retry in %s", e.RetryAfter.Round(time.Second))
}

func (e *ThrottledError) Is(target error) bool {
	return target == ErrThrottled
}
