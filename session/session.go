// Package session persists the authenticated session in tamper-evident
// form and answers role questions about the signed-in user.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sessguard/sessguard/codec"
	"github.com/sessguard/sessguard/storage"
	"github.com/sessguard/sessguard/token"
)

const (
	dataKey      = "auth_data"
	integrityKey = "data_integrity"
	lastRouteKey = "last_url"
)

// ErrNoSession is returned when no session is stored.
var ErrNoSession = errors.New("session: no stored session")

// ErrIntegrity is returned when the stored session failed its
// integrity check. The store clears the tampered record before
// returning it.
var ErrIntegrity = errors.New("session: stored session failed integrity check")

// Notifier receives security alerts. Satisfied by the engine notifier.
type Notifier interface {
	Security(title, message string)
}

// RoleGrant is a single role assignment on a user profile.
type RoleGrant struct {
	RoleID   int    `json:"roleId"`
	RoleName string `json:"roleName,omitempty"`
}

// UserProfile is the identity payload carried inside a session.
type UserProfile struct {
	ID        string      `json:"id,omitempty"`
	Username  string      `json:"username"`
	FirstName string      `json:"firstName,omitempty"`
	LastName  string      `json:"lastName,omitempty"`
	Email     string      `json:"email,omitempty"`
	Grants    []RoleGrant `json:"grants,omitempty"`
}

// HasRole reports whether the profile carries the given role.
func (p UserProfile) HasRole(roleID int) bool {
	for _, g := range p.Grants {
		if g.RoleID == roleID {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the profile carries at least one of the
// given roles. An empty list matches nothing.
func (p UserProfile) HasAnyRole(roleIDs ...int) bool {
	for _, id := range roleIDs {
		if p.HasRole(id) {
			return true
		}
	}
	return false
}

// StoredSession is the persisted session record.
type StoredSession struct {
	Token        string      `json:"token"`
	RefreshToken string      `json:"refreshToken,omitempty"`
	User         UserProfile `json:"user"`
	SavedAt      time.Time   `json:"savedAt"`
}

// Store persists sessions through a codec so any mutation of the
// backing storage is detected on load.
type Store struct {
	store     storage.Store
	codec     *codec.Codec
	inspector *token.Inspector
	logger    zerolog.Logger
	notifier  Notifier
	clock     func() time.Time

	// mu serializes Save, Load, and Clear. The record spans two keys,
	// so a reader must never observe one key's new value next to the
	// other's old one.
	mu sync.Mutex

	// onTouch, when set, is invoked after each successful Load so an
	// activity monitor can count reads as user activity.
	onTouch func()
}

func NewStore(store storage.Store, c *codec.Codec, inspector *token.Inspector, logger zerolog.Logger, notifier Notifier) *Store {
	return &Store{
		store:     store,
		codec:     c,
		inspector: inspector,
		logger:    logger,
		notifier:  notifier,
		clock:     time.Now,
	}
}

// SetClock replaces the store clock. Tests only.
func (s *Store) SetClock(clock func() time.Time) {
	s.clock = clock
}

// OnTouch registers a callback fired after every successful Load.
func (s *Store) OnTouch(fn func()) {
	s.onTouch = fn
}

// Save encodes and persists the session. The digest is written under
// its own key so either record going missing fails the next Load; both
// writes happen under the store lock so a concurrent Load sees either
// the old record or the new one, never a mix.
func (s *Store) Save(ctx context.Context, sess StoredSession) error {
	sess.SavedAt = s.clock()

	plain, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("session: marshal: %v", err)
	}

	env, err := s.codec.Encode(plain)
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Set(ctx, dataKey, env.Ciphertext, 0); err != nil {
		return fmt.Errorf("session: persist data: %w", err)
	}
	if err := s.store.Set(ctx, integrityKey, []byte(env.Digest), 0); err != nil {
		return fmt.Errorf("session: persist digest: %w", err)
	}

	s.logger.Debug().Str("user", sess.User.Username).Msg("session saved")
	return nil
}

// Load retrieves and verifies the stored session. A record that fails
// its integrity check is cleared and reported as ErrIntegrity; the
// caller must treat the user as signed out.
func (s *Store) Load(ctx context.Context) (*StoredSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ciphertext, err := s.store.Get(ctx, dataKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("session: read data: %w", err)
	}

	digest, err := s.store.Get(ctx, integrityKey)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("session: read digest: %w", err)
	}

	plain, err := s.codec.Decode(codec.Envelope{Ciphertext: ciphertext, Digest: string(digest)})
	if err != nil {
		if errors.Is(err, codec.ErrIntegrity) {
			return nil, s.failIntegrity(ctx, "digest mismatch")
		}
		return nil, s.failIntegrity(ctx, "undecodable record")
	}

	var sess StoredSession
	if err := json.Unmarshal(plain, &sess); err != nil {
		return nil, s.failIntegrity(ctx, "corrupt payload")
	}
	if sess.Token == "" {
		return nil, s.failIntegrity(ctx, "missing token")
	}

	if s.onTouch != nil {
		s.onTouch()
	}
	return &sess, nil
}

// IsValid reports whether a session exists, passes its integrity
// check, and carries an unexpired token.
func (s *Store) IsValid(ctx context.Context) bool {
	sess, err := s.Load(ctx)
	if err != nil {
		return false
	}
	return !s.inspector.IsExpired(sess.Token)
}

// Clear removes the stored session and its digest. Clearing an empty
// store is a no-op.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clearLocked(ctx)
}

func (s *Store) clearLocked(ctx context.Context) error {
	if err := s.store.Delete(ctx, dataKey, integrityKey); err != nil {
		return fmt.Errorf("session: clear: %w", err)
	}
	s.logger.Debug().Msg("session cleared")
	return nil
}

// SaveLastRoute remembers the route to return to after the next
// sign-in. Authentication routes are never remembered.
func (s *Store) SaveLastRoute(ctx context.Context, route string) error {
	if route == "" || strings.Contains(route, "/auth/") {
		return nil
	}
	if err := s.store.Set(ctx, lastRouteKey, []byte(route), 0); err != nil {
		return fmt.Errorf("session: save route: %w", err)
	}
	return nil
}

// LastRoute returns the remembered route, or empty when none is set.
func (s *Store) LastRoute(ctx context.Context) string {
	route, err := s.store.Get(ctx, lastRouteKey)
	if err != nil {
		return ""
	}
	return string(route)
}

// ClearLastRoute forgets the remembered route.
func (s *Store) ClearLastRoute(ctx context.Context) error {
	return s.store.Delete(ctx, lastRouteKey)
}

// failIntegrity runs with s.mu held.
func (s *Store) failIntegrity(ctx context.Context, reason string) error {
	s.logger.Error().
		Bool("security", true).
		Str("reason", reason).
		Msg("session integrity check failed, clearing stored session")

	if s.notifier != nil {
		s.notifier.Security(
			"Session integrity failure",
			"Stored session data was modified and has been discarded.",
		)
	}

	if err := s.clearLocked(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("failed to clear tampered session")
	}
	return ErrIntegrity
}
