// Package token inspects bearer token claims without verifying
// signatures. The inspector is advisory: it decides when a refresh is
// worth attempting, while signature trust stays with the identity
// service that issued the token and the resource servers that consume
// it. An unexpired-per-inspector token can still be rejected remotely.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMalformed is returned by DecodeClaims when the token cannot be
// decoded. Expiry checks never surface this error; see Inspector.
var ErrMalformed = errors.New("token: malformed token")

// Claims is the decoded view of a bearer token.
type Claims struct {
	Subject   string
	Roles     []int
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type bearerClaims struct {
	Roles []int `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// Inspector decodes claims and answers expiry questions about bearer
// tokens. The zero value is not usable; construct with New.
type Inspector struct {
	parser *jwt.Parser
	clock  func() time.Time
}

// New creates an Inspector using the real clock.
func New() *Inspector {
	return NewWithClock(time.Now)
}

// NewWithClock creates an Inspector with an injected clock for tests.
func NewWithClock(clock func() time.Time) *Inspector {
	if clock == nil {
		clock = time.Now
	}
	return &Inspector{
		parser: jwt.NewParser(),
		clock:  clock,
	}
}

// DecodeClaims decodes the token's claims without signature
// verification. Malformed input returns ErrMalformed, never a panic.
func (i *Inspector) DecodeClaims(tokenStr string) (*Claims, error) {
	if tokenStr == "" {
		return nil, fmt.Errorf("%w: empty token", ErrMalformed)
	}

	raw := &bearerClaims{}
	if _, _, err := i.parser.ParseUnverified(tokenStr, raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	claims := &Claims{
		Subject: raw.Subject,
		Roles:   raw.Roles,
	}
	if raw.IssuedAt != nil {
		claims.IssuedAt = raw.IssuedAt.Time
	}
	if raw.ExpiresAt != nil {
		claims.ExpiresAt = raw.ExpiresAt.Time
	}

	return claims, nil
}

// IsExpired reports whether the token is verifiably past its expiry.
// Tokens that cannot be decoded, or that carry no expiry claim, are not
// verifiably expired and report false: the inspector only gates when to
// refresh, so a transient decode problem must not force a logout.
func (i *Inspector) IsExpired(tokenStr string) bool {
	expiresAt, ok := i.expiry(tokenStr)
	if !ok {
		return false
	}

	return !i.clock().Before(expiresAt)
}

// ExpiresAt returns the token's expiry time, when one can be decoded.
func (i *Inspector) ExpiresAt(tokenStr string) (time.Time, bool) {
	return i.expiry(tokenStr)
}

// TimeToExpiry returns the remaining lifetime of the token. Expired
// tokens report a non-positive duration.
func (i *Inspector) TimeToExpiry(tokenStr string) (time.Duration, bool) {
	expiresAt, ok := i.expiry(tokenStr)
	if !ok {
		return 0, false
	}

	return expiresAt.Sub(i.clock()), true
}

// ExpiresWithin reports whether the token will expire within window.
// Tokens without a decodable expiry report false, so no refresh is
// scheduled for them.
func (i *Inspector) ExpiresWithin(tokenStr string, window time.Duration) bool {
	remaining, ok := i.TimeToExpiry(tokenStr)
	if !ok {
		return false
	}

	return remaining < window
}

func (i *Inspector) expiry(tokenStr string) (time.Time, bool) {
	claims, err := i.DecodeClaims(tokenStr)
	if err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt.IsZero() {
		return time.Time{}, false
	}

	return claims.ExpiresAt, true
}
