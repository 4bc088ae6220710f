// Package ratelimit provides the fixed-window request limiter used in
// front of the historical data API. The upstream quota is counted per
// clock window, not smoothed, so a token bucket would both over-admit
// at window boundaries and under-admit mid-window.
package ratelimit

import (
	"context"
	"time"
)

// FixedWindowLimiter admits up to limit calls per window. Once the
// limit is reached, further calls block until the window that admitted
// the first call has fully elapsed, then start a fresh window.
type FixedWindowLimiter struct {
	limit  int
	window time.Duration

	windowStart time.Time
	count       int

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewFixedWindowLimiter creates a limiter admitting limit calls per
// window. limit must be positive.
func NewFixedWindowLimiter(limit int, window time.Duration) *FixedWindowLimiter {
	if limit <= 0 {
		limit = 1
	}
	return &FixedWindowLimiter{
		limit:  limit,
		window: window,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// Admit blocks until the caller may proceed. It returns early with the
// context's error if ctx is cancelled while waiting.
//
// The limiter is not safe for concurrent use; the fetch pipeline is
// strictly sequential so callers never overlap.
func (l *FixedWindowLimiter) Admit(ctx context.Context) error {
	for {
		now := l.now()
		if l.windowStart.IsZero() || now.Sub(l.windowStart) >= l.window {
			l.windowStart = now
			l.count = 1
			return nil
		}
		if l.count < l.limit {
			l.count++
			return nil
		}
		wait := l.window - now.Sub(l.windowStart)
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Remaining reports how many calls the current window can still admit.
func (l *FixedWindowLimiter) Remaining() int {
	now := l.now()
	if l.windowStart.IsZero() || now.Sub(l.windowStart) >= l.window {
		return l.limit
	}
	return l.limit - l.count
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
