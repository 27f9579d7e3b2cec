package voice

import (
	"context"
	"time"

	"github.com/MrWong99/hrvoice/internal/store"
)

const (
	// DefaultRateLimit is the number of turns a user may start per window.
	DefaultRateLimit = 10

	// DefaultRateWindow is the length of one rate-limit window.
	DefaultRateWindow = 60 * time.Second
)

// RateLimiter admits or rejects voice turns per user.
type RateLimiter interface {
	Allow(ctx context.Context, userID string) (bool, error)
}

// WindowLimiter is a fixed-window limiter. A user's window opens with their
// first counted request and lasts the window length; once it has passed, the
// next request opens a fresh window from its own time.
type WindowLimiter struct {
	store  store.WindowStore
	limit  int
	window time.Duration
	now    func() time.Time
}

var _ RateLimiter = (*WindowLimiter)(nil)

// RateLimitOption configures a [WindowLimiter].
type RateLimitOption func(*WindowLimiter)

// WithLimit sets the number of turns allowed per window.
func WithLimit(n int) RateLimitOption {
	return func(l *WindowLimiter) {
		if n > 0 {
			l.limit = n
		}
	}
}

// WithWindow sets the window length.
func WithWindow(d time.Duration) RateLimitOption {
	return func(l *WindowLimiter) {
		if d > 0 {
			l.window = d
		}
	}
}

// WithLimiterClock overrides the clock.
func WithLimiterClock(now func() time.Time) RateLimitOption {
	return func(l *WindowLimiter) { l.now = now }
}

// NewRateLimiter returns a [WindowLimiter] persisting windows in ws.
func NewRateLimiter(ws store.WindowStore, opts ...RateLimitOption) *WindowLimiter {
	l := &WindowLimiter{
		store:  ws,
		limit:  DefaultRateLimit,
		window: DefaultRateWindow,
		now:    time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Allow reports whether userID may start another turn and counts it when so.
// A rejected request leaves the window untouched. When the store fails, Allow
// returns true together with the error so the caller can log it.
func (l *WindowLimiter) Allow(ctx context.Context, userID string) (bool, error) {
	var allowed bool
	err := l.store.UpdateWindow(ctx, userID, l.window, func(cur store.Window, found bool) (store.Window, bool) {
		now := l.now()
		if !found || now.After(cur.ResetTime) {
			allowed = true
			return store.Window{Count: 1, ResetTime: now.Add(l.window)}, true
		}
		if cur.Count >= l.limit {
			allowed = false
			return cur, false
		}
		allowed = true
		cur.Count++
		return cur, true
	})
	if err != nil {
		return true, err
	}
	return allowed, nil
}
