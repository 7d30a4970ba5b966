// Package ratelimit bounds submission frequency per resolved identity. The
// guard keeps one small state record per identity: the last accepted
// submission time and a per-UTC-day counter. Check and Record are separate
// reads and writes; two racing requests may both pass a nearly exhausted
// window. The idempotency gate downstream keeps that race harmless.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-intake/core"
)

// State is the throttle record for one identity. Day holds the UTC date
// CountToday applies to; a new day resets the counter.
type State struct {
	Key        string
	LastAt     time.Time
	CountToday int
	Day        string
}

type StateStore interface {
	Get(ctx context.Context, key string) (State, bool, error)
	Put(ctx context.Context, state State) error
	PurgeStale(ctx context.Context, olderThan time.Time) (int, error)
}

// ThrottledError reports a rejected submission with a positive retry hint.
type ThrottledError struct {
	Key        string
	RetryAfter time.Duration
	DailyCap   bool
}

func (e *ThrottledError) Error() string {
	if e == nil {
		return "ratelimit: throttled"
	}
	if e.DailyCap {
		return fmt.Sprintf("ratelimit: daily cap reached for %s, retry after %s", e.Key, e.RetryAfter)
	}
	return fmt.Sprintf("ratelimit: cooldown active for %s, retry after %s", e.Key, e.RetryAfter)
}

// ToServiceError lifts a throttle rejection into the shared envelope with
// the retry hint in metadata.
func (e *ThrottledError) ToServiceError() *goerrors.Error {
	return goerrors.New(e.Error(), goerrors.CategoryRateLimit).
		WithCode(http.StatusTooManyRequests).
		WithTextCode(core.IntakeErrorThrottled).
		WithMetadata(map[string]any{
			"retry_after_seconds": int64(e.RetryAfter / time.Second),
			"daily_cap":           e.DailyCap,
		})
}

// Guard evaluates throttle policy. Zero Cooldown disables the cooldown
// check, zero MaxPerDay disables the daily cap.
type Guard struct {
	Store     StateStore
	Cooldown  time.Duration
	MaxPerDay int
	Now       func() time.Time
}

func NewGuard(store StateStore, cfg core.ThrottleConfig) (*Guard, error) {
	if store == nil {
		return nil, fmt.Errorf("ratelimit: state store is required")
	}
	return &Guard{
		Store:     store,
		Cooldown:  cfg.Cooldown,
		MaxPerDay: cfg.MaxPerDay,
	}, nil
}

func (g *Guard) now() time.Time {
	if g != nil && g.Now != nil {
		return g.Now().UTC()
	}
	return time.Now().UTC()
}

// Check rejects a submission that falls inside the cooldown window or
// beyond the daily cap. The daily cap wins when both apply: waiting out
// the cooldown cannot help an identity that exhausted its day.
func (g *Guard) Check(ctx context.Context, key string) error {
	if g == nil {
		return fmt.Errorf("ratelimit: guard is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("ratelimit: identity key is required")
	}
	state, found, err := g.Store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("ratelimit: load state for %s: %w", key, err)
	}
	if !found {
		return nil
	}
	now := g.now()
	today := now.Format("2006-01-02")

	if g.MaxPerDay > 0 && state.Day == today && state.CountToday >= g.MaxPerDay {
		throttled := &ThrottledError{
			Key:        key,
			RetryAfter: nextUTCMidnight(now).Sub(now),
			DailyCap:   true,
		}
		return throttled.ToServiceError()
	}
	if g.Cooldown > 0 && !state.LastAt.IsZero() {
		elapsed := now.Sub(state.LastAt)
		if elapsed < g.Cooldown {
			throttled := &ThrottledError{
				Key:        key,
				RetryAfter: g.Cooldown - elapsed,
			}
			return throttled.ToServiceError()
		}
	}
	return nil
}

// Record counts one accepted submission. Callers invoke it only after the
// pipeline accepted the event, so throttled and failed attempts never
// consume the identity's budget.
func (g *Guard) Record(ctx context.Context, key string) error {
	if g == nil {
		return fmt.Errorf("ratelimit: guard is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("ratelimit: identity key is required")
	}
	state, found, err := g.Store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("ratelimit: load state for %s: %w", key, err)
	}
	now := g.now()
	today := now.Format("2006-01-02")
	if !found || state.Day != today {
		state = State{Key: key, Day: today}
	}
	state.LastAt = now
	state.CountToday++
	if err := g.Store.Put(ctx, state); err != nil {
		return fmt.Errorf("ratelimit: store state for %s: %w", key, err)
	}
	return nil
}

// PurgeStale drops state records old enough to be irrelevant to both the
// cooldown and the daily cap. Maintenance jobs call this.
func (g *Guard) PurgeStale(ctx context.Context) (int, error) {
	if g == nil {
		return 0, fmt.Errorf("ratelimit: guard is not configured")
	}
	horizon := 48 * time.Hour
	if g.Cooldown > horizon {
		horizon = g.Cooldown * 2
	}
	return g.Store.PurgeStale(ctx, g.now().Add(-horizon))
}

func nextUTCMidnight(now time.Time) time.Time {
	year, month, day := now.UTC().Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
}
