package ratelimit

import (
	"context"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-intake/core"
)

func newTestGuard(t *testing.T, now *time.Time) *Guard {
	t.Helper()
	guard, err := NewGuard(NewMemoryStateStore(), core.ThrottleConfig{
		Cooldown:  10 * time.Minute,
		MaxPerDay: 3,
	})
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}
	guard.Now = func() time.Time { return *now }
	return guard
}

func accept(t *testing.T, guard *Guard, key string) {
	t.Helper()
	if err := guard.Check(context.Background(), key); err != nil {
		t.Fatalf("expected accept, got %v", err)
	}
	if err := guard.Record(context.Background(), key); err != nil {
		t.Fatalf("record failed: %v", err)
	}
}

func assertThrottled(t *testing.T, err error, wantDailyCap bool) *goerrors.Error {
	t.Helper()
	if err == nil {
		t.Fatal("expected throttle rejection")
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		t.Fatalf("expected goerrors envelope, got %T: %v", err, err)
	}
	if richErr.Category != goerrors.CategoryRateLimit {
		t.Fatalf("expected rate limit category, got %v", richErr.Category)
	}
	retryAfter, ok := richErr.Metadata["retry_after_seconds"].(int64)
	if !ok || retryAfter <= 0 {
		t.Fatalf("expected positive retry hint, got %v", richErr.Metadata["retry_after_seconds"])
	}
	if got := richErr.Metadata["daily_cap"]; got != wantDailyCap {
		t.Fatalf("expected daily_cap=%v, got %v", wantDailyCap, got)
	}
	return richErr
}

func TestGuardCooldownWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	guard := newTestGuard(t, &now)

	accept(t, guard, "acc_1")

	now = now.Add(5 * time.Minute)
	err := guard.Check(context.Background(), "acc_1")
	richErr := assertThrottled(t, err, false)
	if retry := richErr.Metadata["retry_after_seconds"].(int64); retry != int64((5 * time.Minute).Seconds()) {
		t.Fatalf("expected 300s retry hint, got %d", retry)
	}

	now = now.Add(6 * time.Minute)
	accept(t, guard, "acc_1")
}

func TestGuardDailyCap(t *testing.T) {
	now := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	guard := newTestGuard(t, &now)

	for i := 0; i < 3; i++ {
		accept(t, guard, "acc_1")
		now = now.Add(time.Hour)
	}

	// Cooldown has long elapsed; the cap still rejects.
	err := guard.Check(context.Background(), "acc_1")
	assertThrottled(t, err, true)

	// A new UTC day resets the counter.
	now = time.Date(2026, 3, 2, 0, 30, 0, 0, time.UTC)
	accept(t, guard, "acc_1")
}

func TestGuardScenarioSequence(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	guard := newTestGuard(t, &now)

	accept(t, guard, "acc_1")

	now = now.Add(4 * time.Minute)
	assertThrottled(t, guard.Check(context.Background(), "acc_1"), false)

	now = now.Add(7 * time.Minute)
	accept(t, guard, "acc_1")

	now = now.Add(11 * time.Minute)
	accept(t, guard, "acc_1")

	now = now.Add(11 * time.Minute)
	assertThrottled(t, guard.Check(context.Background(), "acc_1"), true)
}

func TestGuardIsolatesIdentities(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	guard := newTestGuard(t, &now)

	accept(t, guard, "acc_1")
	accept(t, guard, "acc_2")
}

func TestGuardThrottledAttemptsDoNotConsumeBudget(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	guard := newTestGuard(t, &now)

	accept(t, guard, "acc_1")
	for i := 0; i < 5; i++ {
		now = now.Add(time.Minute)
		assertThrottled(t, guard.Check(context.Background(), "acc_1"), false)
	}
	now = now.Add(10 * time.Minute)
	accept(t, guard, "acc_1")
	now = now.Add(11 * time.Minute)
	accept(t, guard, "acc_1")
}

func TestGuardPurgeStale(t *testing.T) {
	now := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)
	guard := newTestGuard(t, &now)

	accept(t, guard, "acc_old")
	now = now.Add(72 * time.Hour)
	accept(t, guard, "acc_new")

	purged, err := guard.PurgeStale(context.Background())
	if err != nil {
		t.Fatalf("purge failed: %v", err)
	}
	if purged != 1 {
		t.Fatalf("expected 1 purged record, got %d", purged)
	}
}
