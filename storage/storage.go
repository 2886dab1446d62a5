// Package storage defines the key-value byte store the session core
// persists through, with an in-process implementation scoped to the
// process lifetime and a Redis-backed implementation for deployments
// that share state between instances.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.New("storage: key not found")

// ErrUnavailable is returned when the backing store cannot be reached.
var ErrUnavailable = errors.New("storage: backend unavailable")

// Store is a synchronous key-value byte store. Values written with a
// positive ttl expire; a zero ttl means no expiry. Implementations must
// be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}
