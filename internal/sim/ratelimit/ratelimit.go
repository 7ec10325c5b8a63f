// Package ratelimit implements the sliding fixed-window request counter used
// for per-actor and per-IP throttling. Single-process authority; no
// distributed coordination.
package ratelimit

import (
	"sync"
	"time"
)

// DefaultWindow is the counting window applied by Check.
const DefaultWindow = time.Minute

type window struct {
	count   int
	resetAt time.Time
}

// Limiter counts requests per arbitrary string key (e.g. "agent:A1",
// "ip:10.0.0.1"). Safe for concurrent use; each key has a single point of
// truth.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

func New() *Limiter {
	return &Limiter{windows: map[string]*window{}, now: time.Now}
}

// NewWithClock is for tests that need to step time.
func NewWithClock(now func() time.Time) *Limiter {
	return &Limiter{windows: map[string]*window{}, now: now}
}

// Check records one request against key and reports whether it is allowed
// under limit requests per DefaultWindow.
func (l *Limiter) Check(key string, limit int) bool {
	return l.CheckWindow(key, limit, DefaultWindow)
}

// CheckWindow is Check with an explicit window. On first use, or once the
// window has expired, the counter resets to 1 and the request is allowed.
// Within a window the request is allowed only while the count is below limit.
func (l *Limiter) CheckWindow(key string, limit int, windowLen time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w := l.windows[key]
	if w == nil || now.After(w.resetAt) {
		l.windows[key] = &window{count: 1, resetAt: now.Add(windowLen)}
		return true
	}
	if w.count >= limit {
		return false
	}
	w.count++
	return true
}

// Prune drops expired windows. The hot path never needs this; the server runs
// it periodically to keep the key map from growing with one-shot clients.
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for k, w := range l.windows {
		if now.After(w.resetAt) {
			delete(l.windows, k)
			removed++
		}
	}
	return removed
}
