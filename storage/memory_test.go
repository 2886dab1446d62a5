package storage

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"
)

func TestMemoryGetMissingKey(t *testing.T) {
	store := NewMemory()

	_, err := store.Get(context.Background(), "absent")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemorySetGetRoundTrip(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	if err := store.Set(ctx, "blob", []byte("payload"), 0); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	value, err := store.Get(ctx, "blob")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(value) != "payload" {
		t.Fatalf("expected %q, got %q", "payload", value)
	}
}

func TestMemoryReturnedValueIsACopy(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	if err := store.Set(ctx, "blob", []byte("payload"), 0); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	first, _ := store.Get(ctx, "blob")
	first[0] = 'X'

	second, _ := store.Get(ctx, "blob")
	if string(second) != "payload" {
		t.Fatalf("stored value mutated through returned slice: %q", second)
	}
}

func TestMemoryTTLExpiry(t *testing.T) {
	now := time.Unix(1000, 0)
	store := NewMemoryWithClock(func() time.Time { return now })
	ctx := context.Background()

	if err := store.Set(ctx, "blob", []byte("payload"), time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	if _, err := store.Get(ctx, "blob"); err != nil {
		t.Fatalf("expected value before expiry, got %v", err)
	}

	now = now.Add(time.Minute)
	if _, err := store.Get(ctx, "blob"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after expiry, got %v", err)
	}
}

func TestMemoryDeleteIsIdempotent(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	if err := store.Set(ctx, "blob", []byte("payload"), 0); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := store.Delete(ctx, "blob", "absent"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := store.Delete(ctx, "blob"); err != nil {
		t.Fatalf("repeat delete failed: %v", err)
	}

	if _, err := store.Get(ctx, "blob"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryKeysFiltersByPrefix(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	for _, key := range []string{"att:alice", "att:bob", "sess:blob"} {
		if err := store.Set(ctx, key, []byte("x"), 0); err != nil {
			t.Fatalf("set %s failed: %v", key, err)
		}
	}

	keys, err := store.Keys(ctx, "att:")
	if err != nil {
		t.Fatalf("keys failed: %v", err)
	}

	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "att:alice" || keys[1] != "att:bob" {
		t.Fatalf("unexpected keys: %v", keys)
	}
}
