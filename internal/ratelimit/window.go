// Package ratelimit implements a per-key fixed-window request limiter
// behind a swappable counter store.
package ratelimit

import (
	"context"
	"time"
)

// Window is the state of one fixed window after an increment.
type Window struct {
	Count       int64
	WindowStart time.Time
}

// Store increments the counter for key inside the current fixed window,
// opening a new window when the previous one has expired. The increment
// must be atomic: concurrent callers may never observe a lost update.
type Store interface {
	Increment(ctx context.Context, key string, window time.Duration) (Window, error)
}

// Result is the outcome of one limiter check.
type Result struct {
	Allowed     bool
	Limit       int
	Remaining   int
	WindowStart time.Time
	ResetAt     time.Time
	RetryAfter  time.Duration
}

// Limiter applies a fixed-window policy on top of a Store.
type Limiter struct {
	store  Store
	max    int
	window time.Duration
}

func NewLimiter(store Store, max int, window time.Duration) *Limiter {
	if max <= 0 {
		max = 100
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{store: store, max: max, window: window}
}

// Allow counts the request against key's window and decides. The offending
// request itself is counted: a denied request still consumed a slot.
func (l *Limiter) Allow(ctx context.Context, key string) (*Result, error) {
	win, err := l.store.Increment(ctx, key, l.window)
	if err != nil {
		return nil, err
	}

	resetAt := win.WindowStart.Add(l.window)
	remaining := l.max - int(win.Count)
	if remaining < 0 {
		remaining = 0
	}

	result := &Result{
		Allowed:     win.Count <= int64(l.max),
		Limit:       l.max,
		Remaining:   remaining,
		WindowStart: win.WindowStart,
		ResetAt:     resetAt,
	}
	if !result.Allowed {
		retry := time.Until(resetAt)
		if retry < 0 {
			retry = 0
		}
		result.RetryAfter = retry
	}
	return result, nil
}
