// Package throttle tracks failed authentication attempts per identity
// key and computes escalating lockout windows. It is best-effort
// protection against scripted retry loops, not a security boundary on
// its own: the identity service remains the authority on credentials.
package throttle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sessguard/sessguard/storage"
)

const attemptsKey = "login_attempts"

// DefaultKey is the identity key used when the caller cannot supply a
// per-identity one.
const DefaultKey = "default"

// Notifier receives user-facing warnings when a key gets blocked.
type Notifier interface {
	Warn(title, message string)
}

// Config holds throttle tuning parameters.
type Config struct {
	// Threshold is the failure count at which blocking starts.
	Threshold int
	// Escalation is the lockout duration table. The tier index is
	// floor(count/Threshold)-1, clamped to the last entry.
	Escalation []time.Duration
	// StaleAfter is the age past which attempt records are purged.
	StaleAfter time.Duration
}

// DefaultConfig returns the production defaults: block after 5
// failures, escalate through 1h, 2h, 4h, 8h, 24h, purge records idle
// for a day.
func DefaultConfig() Config {
	return Config{
		Threshold: 5,
		Escalation: []time.Duration{
			1 * time.Hour,
			2 * time.Hour,
			4 * time.Hour,
			8 * time.Hour,
			24 * time.Hour,
		},
		StaleAfter: 24 * time.Hour,
	}
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	if c.Threshold <= 0 {
		return fmt.Errorf("throttle: threshold must be positive, got %d", c.Threshold)
	}
	if len(c.Escalation) == 0 {
		return fmt.Errorf("throttle: escalation table must not be empty")
	}
	for i, d := range c.Escalation {
		if d <= 0 {
			return fmt.Errorf("throttle: escalation tier %d must be positive, got %v", i, d)
		}
		if i > 0 && d < c.Escalation[i-1] {
			return fmt.Errorf("throttle: escalation table must be non-decreasing")
		}
	}
	if c.StaleAfter <= 0 {
		return fmt.Errorf("throttle: stale-after must be positive, got %v", c.StaleAfter)
	}
	return nil
}

type record struct {
	Count         int        `json:"count"`
	LastFailureAt time.Time  `json:"last_failure_at"`
	BlockedUntil  *time.Time `json:"blocked_until,omitempty"`
}

// Stats summarizes the engine's current records.
type Stats struct {
	Keys          int
	BlockedKeys   int
	TotalAttempts int
}

// Engine is the attempt throttle. All operations take the identity key
// of the login being attempted; an empty key falls back to DefaultKey.
//
// The engine serializes its own read-modify-write cycles, but the
// backing store may be shared between processes; a lost increment under
// that kind of race is acceptable.
type Engine struct {
	mu       sync.Mutex
	store    storage.Store
	cfg      Config
	clock    func() time.Time
	logger   zerolog.Logger
	notifier Notifier
}

// New creates a throttle engine over the given store. Callers should
// invoke PurgeStale once at startup to drop records from earlier runs
// of a shared store.
func New(store storage.Store, cfg Config, logger zerolog.Logger, notifier Notifier) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Engine{
		store:    store,
		cfg:      cfg,
		clock:    time.Now,
		logger:   logger,
		notifier: notifier,
	}, nil
}

// SetClock replaces the engine clock. Tests only.
func (e *Engine) SetClock(clock func() time.Time) {
	e.mu.Lock()
	e.clock = clock
	e.mu.Unlock()
}

// RecordFailure registers a failed authentication for key. Once the
// failure count crosses the threshold, the key is blocked for the
// duration of its current escalation tier.
func (e *Engine) RecordFailure(ctx context.Context, key string) error {
	key = normalizeKey(key)

	e.mu.Lock()
	defer e.mu.Unlock()

	records, err := e.load(ctx)
	if err != nil {
		return err
	}

	now := e.clock()
	rec := records[key]
	rec.Count++
	rec.LastFailureAt = now

	if rec.Count >= e.cfg.Threshold {
		tier := rec.Count/e.cfg.Threshold - 1
		if tier >= len(e.cfg.Escalation) {
			tier = len(e.cfg.Escalation) - 1
		}
		until := now.Add(e.cfg.Escalation[tier])
		rec.BlockedUntil = &until

		e.logger.Error().
			Bool("security", true).
			Str("key", key).
			Int("attempts", rec.Count).
			Int("tier", tier).
			Dur("block_duration", e.cfg.Escalation[tier]).
			Msg("identity key blocked after repeated failures")

		if e.notifier != nil {
			e.notifier.Warn(
				"Access blocked",
				fmt.Sprintf("Too many failed attempts. Blocked for %s.", e.cfg.Escalation[tier]),
			)
		}
	} else if left := e.cfg.Threshold - rec.Count; left <= 2 {
		e.logger.Warn().
			Str("key", key).
			Int("attempts_left", left).
			Msg("approaching lockout threshold")
	}

	records[key] = rec
	return e.save(ctx, records)
}

// IsBlocked reports whether key is currently blocked. Observing an
// expired block halves the failure count and clears the block as a
// side effect, so escalation decays lazily without a background sweep.
// Storage failures report unblocked: throttling is best-effort.
func (e *Engine) IsBlocked(ctx context.Context, key string) bool {
	key = normalizeKey(key)

	e.mu.Lock()
	defer e.mu.Unlock()

	records, err := e.load(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Msg("throttle state unavailable, treating as unblocked")
		return false
	}

	rec, ok := records[key]
	if !ok || rec.BlockedUntil == nil {
		return false
	}

	now := e.clock()
	if now.Before(*rec.BlockedUntil) {
		return true
	}

	rec.Count /= 2
	rec.BlockedUntil = nil
	records[key] = rec
	if err := e.save(ctx, records); err != nil {
		e.logger.Warn().Err(err).Msg("failed to persist lockout decay")
	}

	e.logger.Debug().Str("key", key).Int("count", rec.Count).Msg("block expired, attempt count halved")
	return false
}

// RemainingBlockTime returns how long key stays blocked, or zero when
// it is not blocked.
func (e *Engine) RemainingBlockTime(ctx context.Context, key string) time.Duration {
	key = normalizeKey(key)

	e.mu.Lock()
	defer e.mu.Unlock()

	records, err := e.load(ctx)
	if err != nil {
		return 0
	}

	rec, ok := records[key]
	if !ok || rec.BlockedUntil == nil {
		return 0
	}

	remaining := rec.BlockedUntil.Sub(e.clock())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Reset deletes the attempt record for key. Called exactly once per
// successful authentication of that key.
func (e *Engine) Reset(ctx context.Context, key string) error {
	key = normalizeKey(key)

	e.mu.Lock()
	defer e.mu.Unlock()

	records, err := e.load(ctx)
	if err != nil {
		return err
	}

	if _, ok := records[key]; !ok {
		return nil
	}

	delete(records, key)
	e.logger.Info().Str("key", key).Msg("attempt record cleared after successful authentication")
	return e.save(ctx, records)
}

// AttemptCount returns the current failure count for key.
func (e *Engine) AttemptCount(ctx context.Context, key string) int {
	key = normalizeKey(key)

	e.mu.Lock()
	defer e.mu.Unlock()

	records, err := e.load(ctx)
	if err != nil {
		return 0
	}

	return records[key].Count
}

// PurgeStale drops records whose last failure is older than the
// configured stale window. Intended to run once at startup.
func (e *Engine) PurgeStale(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	records, err := e.load(ctx)
	if err != nil {
		return err
	}

	now := e.clock()
	purged := 0
	for key, rec := range records {
		if now.Sub(rec.LastFailureAt) > e.cfg.StaleAfter {
			delete(records, key)
			purged++
		}
	}

	if purged == 0 {
		return nil
	}

	e.logger.Debug().Int("purged", purged).Msg("stale attempt records removed")
	return e.save(ctx, records)
}

// Stats summarizes current throttle state for administrative surfaces.
func (e *Engine) Stats(ctx context.Context) Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	records, err := e.load(ctx)
	if err != nil {
		return Stats{}
	}

	now := e.clock()
	stats := Stats{Keys: len(records)}
	for _, rec := range records {
		stats.TotalAttempts += rec.Count
		if rec.BlockedUntil != nil && now.Before(*rec.BlockedUntil) {
			stats.BlockedKeys++
		}
	}

	return stats
}

// ClearAll removes every attempt record. Administrative use only.
func (e *Engine) ClearAll(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.store.Delete(ctx, attemptsKey); err != nil {
		return err
	}

	e.logger.Info().Msg("all attempt records cleared")
	return nil
}

func (e *Engine) load(ctx context.Context) (map[string]record, error) {
	data, err := e.store.Get(ctx, attemptsKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return map[string]record{}, nil
		}
		return nil, err
	}

	records := map[string]record{}
	if err := json.Unmarshal(data, &records); err != nil {
		// A corrupt blob is discarded rather than trusted.
		e.logger.Error().Bool("security", true).Err(err).Msg("attempt records corrupt, discarding")
		return map[string]record{}, nil
	}

	return records, nil
}

func (e *Engine) save(ctx context.Context, records map[string]record) error {
	if len(records) == 0 {
		return e.store.Delete(ctx, attemptsKey)
	}

	data, err := json.Marshal(records)
	if err != nil {
		return err
	}

	return e.store.Set(ctx, attemptsKey, data, e.cfg.StaleAfter)
}

func normalizeKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return DefaultKey
	}
	return key
}
