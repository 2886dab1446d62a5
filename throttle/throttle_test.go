package throttle

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sessguard/sessguard/storage"
)

type fakeNotifier struct {
	warnings []string
}

func (f *fakeNotifier) Warn(title, message string) {
	f.warnings = append(f.warnings, title+": "+message)
}

type testEngine struct {
	*Engine
	now      time.Time
	notifier *fakeNotifier
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()

	notifier := &fakeNotifier{}
	engine, err := New(storage.NewMemory(), DefaultConfig(), zerolog.Nop(), notifier)
	if err != nil {
		t.Fatalf("throttle.New failed: %v", err)
	}

	te := &testEngine{Engine: engine, now: time.Unix(1_700_000_000, 0), notifier: notifier}
	engine.SetClock(func() time.Time { return te.now })
	return te
}

func (te *testEngine) fail(t *testing.T, key string, times int) {
	t.Helper()
	for i := 0; i < times; i++ {
		if err := te.RecordFailure(context.Background(), key); err != nil {
			t.Fatalf("RecordFailure failed: %v", err)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"zero threshold", func(c *Config) { c.Threshold = 0 }, false},
		{"empty table", func(c *Config) { c.Escalation = nil }, false},
		{"negative tier", func(c *Config) { c.Escalation = []time.Duration{-time.Hour} }, false},
		{"decreasing table", func(c *Config) { c.Escalation = []time.Duration{2 * time.Hour, time.Hour} }, false},
		{"zero stale window", func(c *Config) { c.StaleAfter = 0 }, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.ok && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

// Five failures with threshold 5 and table [1,2,4,8,24]h block the key
// for roughly one hour.
func TestBlockAfterThresholdFailures(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	te.fail(t, "default", 4)
	if te.IsBlocked(ctx, "default") {
		t.Fatal("blocked before reaching threshold")
	}

	te.fail(t, "default", 1)
	if !te.IsBlocked(ctx, "default") {
		t.Fatal("expected block after threshold failures")
	}

	remaining := te.RemainingBlockTime(ctx, "default")
	if remaining <= 0 || remaining > time.Hour {
		t.Fatalf("expected remaining block time in (0, 1h], got %v", remaining)
	}
	if len(te.notifier.warnings) != 1 {
		t.Fatalf("expected exactly one block notification, got %d", len(te.notifier.warnings))
	}
}

// A key that keeps failing after each block expires escalates: at
// count=10 the tier is floor(10/5)-1 = 1, a two-hour block.
func TestEscalationTierAtTenFailures(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	te.fail(t, "default", 5)

	// Let the 1h block lapse; observing it halves the count to 2.
	te.now = te.now.Add(time.Hour + time.Minute)
	if te.IsBlocked(ctx, "default") {
		t.Fatal("block should have expired")
	}
	if got := te.AttemptCount(ctx, "default"); got != 2 {
		t.Fatalf("expected halved count 2, got %d", got)
	}

	// Fail until the raw count reaches 10: tier 1 applies.
	te.fail(t, "default", 8)
	if !te.IsBlocked(ctx, "default") {
		t.Fatal("expected block at count 10")
	}

	remaining := te.RemainingBlockTime(ctx, "default")
	if remaining <= time.Hour || remaining > 2*time.Hour {
		t.Fatalf("expected ~2h block at count 10, got %v", remaining)
	}
}

// Lockout duration never decreases as failures accumulate, and is
// capped by the last escalation tier.
func TestEscalationIsMonotonicAndBounded(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	var last time.Duration
	for cycle := 0; cycle < 12; cycle++ {
		for !te.IsBlocked(ctx, "default") {
			te.fail(t, "default", 1)
		}

		blocked := te.RemainingBlockTime(ctx, "default")
		if blocked < last {
			t.Fatalf("cycle %d: lockout shrank from %v to %v", cycle, last, blocked)
		}
		if blocked > 24*time.Hour {
			t.Fatalf("cycle %d: lockout exceeds cap: %v", cycle, blocked)
		}
		last = blocked

		te.now = te.now.Add(blocked + time.Minute)
	}
}

func TestResetClearsRecord(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	te.fail(t, "default", 3)
	if err := te.Reset(ctx, "default"); err != nil {
		t.Fatalf("reset failed: %v", err)
	}

	if te.IsBlocked(ctx, "default") {
		t.Fatal("blocked after reset")
	}
	if got := te.AttemptCount(ctx, "default"); got != 0 {
		t.Fatalf("expected zero attempts after reset, got %d", got)
	}
}

func TestResetAfterBlockUnblocksImmediately(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	te.fail(t, "default", 5)
	if !te.IsBlocked(ctx, "default") {
		t.Fatal("expected block")
	}

	if err := te.Reset(ctx, "default"); err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if te.IsBlocked(ctx, "default") {
		t.Fatal("still blocked after reset")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	te.fail(t, "alice", 5)
	if !te.IsBlocked(ctx, "alice") {
		t.Fatal("expected alice blocked")
	}
	if te.IsBlocked(ctx, "bob") {
		t.Fatal("bob should not be blocked")
	}
}

func TestKeyNormalization(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	te.fail(t, " Alice ", 2)
	if got := te.AttemptCount(ctx, "alice"); got != 2 {
		t.Fatalf("expected normalized key to share the record, got count %d", got)
	}

	te.fail(t, "", 1)
	if got := te.AttemptCount(ctx, DefaultKey); got != 1 {
		t.Fatalf("expected empty key to fall back to %q, got count %d", DefaultKey, got)
	}
}

func TestPurgeStaleDropsOldRecords(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	te.fail(t, "old", 2)
	te.now = te.now.Add(25 * time.Hour)
	te.fail(t, "fresh", 2)

	if err := te.PurgeStale(ctx); err != nil {
		t.Fatalf("purge failed: %v", err)
	}

	if got := te.AttemptCount(ctx, "old"); got != 0 {
		t.Fatalf("expected stale record purged, got count %d", got)
	}
	if got := te.AttemptCount(ctx, "fresh"); got != 2 {
		t.Fatalf("expected fresh record kept, got count %d", got)
	}
}

func TestStatsAndClearAll(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	te.fail(t, "alice", 5)
	te.fail(t, "bob", 2)

	stats := te.Stats(ctx)
	if stats.Keys != 2 || stats.BlockedKeys != 1 || stats.TotalAttempts != 7 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	if err := te.ClearAll(ctx); err != nil {
		t.Fatalf("clear all failed: %v", err)
	}
	if got := te.Stats(ctx); got.Keys != 0 {
		t.Fatalf("expected empty stats after clear, got %+v", got)
	}
}

func TestCorruptRecordsAreDiscarded(t *testing.T) {
	store := storage.NewMemory()
	engine, err := New(store, DefaultConfig(), zerolog.Nop(), nil)
	if err != nil {
		t.Fatalf("throttle.New failed: %v", err)
	}
	ctx := context.Background()

	if err := store.Set(ctx, attemptsKey, []byte("{not json"), 0); err != nil {
		t.Fatalf("seed corrupt blob failed: %v", err)
	}

	if engine.IsBlocked(ctx, "default") {
		t.Fatal("corrupt state should not block")
	}
	if err := engine.RecordFailure(ctx, "default"); err != nil {
		t.Fatalf("RecordFailure over corrupt state failed: %v", err)
	}
	if got := engine.AttemptCount(ctx, "default"); got != 1 {
		t.Fatalf("expected fresh count 1, got %d", got)
	}
}
