package sessguard

import (
	"time"

	"github.com/sessguard/sessguard/session"
)

// State is the guard's authentication state.
type State int

const (
	// StateAnonymous means no valid session exists.
	StateAnonymous State = iota
	// StateAuthenticated means a valid session with an unexpired token
	// exists.
	StateAuthenticated
	// StateExpired means a session exists but its token has expired
	// and has not been refreshed yet.
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticated:
		return "authenticated"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Notifier surfaces user-facing alerts. Implementations must be safe
// for concurrent use; the guard calls them from background goroutines.
type Notifier interface {
	// Warn reports a condition the user should act on, like an
	// approaching lockout or idle warning.
	Warn(title, message string)
	// Error reports a failed operation.
	Error(title, message string)
	// Security reports a security-relevant event such as tampered
	// session data.
	Security(title, message string)
}

// NoOpNotifier discards all alerts.
type NoOpNotifier struct{}

func (NoOpNotifier) Warn(string, string)     {}
func (NoOpNotifier) Error(string, string)    {}
func (NoOpNotifier) Security(string, string) {}

// TokenInfo is a decoded view of the current session token.
type TokenInfo struct {
	Subject   string
	Roles     []int
	IssuedAt  time.Time
	ExpiresAt time.Time
	Expired   bool
	TimeLeft  time.Duration
}

// LoginResult reports the outcome of a successful sign-in.
type LoginResult struct {
	User session.UserProfile
	// ReturnRoute is the route remembered before the previous sign-out,
	// empty when none was recorded.
	ReturnRoute string
}
