// Package ratelimit implements a per-client fixed-window request
// limiter for the auth endpoints.
package ratelimit

import (
	"sync"
	"time"
)

const Window = time.Minute

// Decision is the outcome of a single Allow call. Remaining and
// RetryAfter feed the X-RateLimit-* and Retry-After response headers.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

type window struct {
	start time.Time
	count int
}

// Limiter counts requests per key (client IP) over a fixed window.
// Windows reset rather than slide; a burst straddling the boundary can
// briefly exceed the limit, which is acceptable for abuse protection.
type Limiter struct {
	mu      sync.Mutex
	limit   int
	windows map[string]*window
	now     func() time.Time
}

func NewLimiter(requestsPerWindow int) *Limiter {
	return &Limiter{
		limit:   requestsPerWindow,
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Allow records a request for key and reports whether it is within the
// window's budget.
func (l *Limiter) Allow(key string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= Window {
		w = &window{start: now}
		l.windows[key] = w
	}

	if w.count >= l.limit {
		return Decision{
			Allowed:    false,
			Limit:      l.limit,
			Remaining:  0,
			RetryAfter: w.start.Add(Window).Sub(now),
		}
	}

	w.count++
	return Decision{
		Allowed:   true,
		Limit:     l.limit,
		Remaining: l.limit - w.count,
	}
}

// Cleanup drops windows that have fully elapsed and returns how many
// were removed. Called periodically so the key map does not grow with
// every client ever seen.
func (l *Limiter) Cleanup() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, w := range l.windows {
		if now.Sub(w.start) >= Window {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}
