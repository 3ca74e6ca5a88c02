package handlers

import (
	"strings"
	"sync"
	"time"
)

// checkoutLimiter caps how many checkouts one customer may submit per fixed window.
type checkoutLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	windows map[string]limiterWindow
}

type limiterWindow struct {
	count int
	reset time.Time
}

func newCheckoutLimiter(limit int, window time.Duration, clock func() time.Time) *checkoutLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &checkoutLimiter{
		limit:   limit,
		window:  window,
		clock:   clock,
		windows: make(map[string]limiterWindow),
	}
}

// Allow records an attempt for key. When the window is exhausted it returns false and the
// time remaining until the window resets.
func (l *checkoutLimiter) Allow(key string) (bool, time.Duration) {
	if l == nil {
		return true, 0
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	current, ok := l.windows[key]
	if !ok || !now.Before(current.reset) {
		l.windows[key] = limiterWindow{count: 1, reset: now.Add(l.window)}
		l.pruneLocked(now)
		return true, 0
	}
	if current.count >= l.limit {
		return false, current.reset.Sub(now)
	}
	current.count++
	l.windows[key] = current
	return true, 0
}

func (l *checkoutLimiter) pruneLocked(now time.Time) {
	for key, w := range l.windows {
		if !now.Before(w.reset) {
			delete(l.windows, key)
		}
	}
}
