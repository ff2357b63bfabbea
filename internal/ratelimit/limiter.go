package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a fixed-window request limiter keyed by an arbitrary string
// (here: operation + client IP). Flagged reports whether the key exceeded
// its budget during the current window, which feeds the trust scorer's
// anomaly check.
type Limiter interface {
	Allow(key string) bool
	Flagged(key string) bool
}

type window struct {
	start time.Time
	count int
}

// FixedWindow is the in-process limiter implementation.
type FixedWindow struct {
	mu      sync.Mutex
	limit   int
	period  time.Duration
	windows map[string]*window
}

// NewFixedWindow creates a limiter allowing limit requests per period.
func NewFixedWindow(limit int, period time.Duration) *FixedWindow {
	return &FixedWindow{
		limit:   limit,
		period:  period,
		windows: make(map[string]*window),
	}
}

var _ Limiter = (*FixedWindow)(nil)

// Allow counts one request against the key's current window.
func (l *FixedWindow) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	w := l.current(key, time.Now())
	w.count++
	return w.count <= l.limit
}

// Flagged reports whether the key is over budget this window without
// counting a request. A key with no live window is never flagged, and the
// lookup does not create one.
func (l *FixedWindow) Flagged(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[key]
	if !ok || time.Since(w.start) >= l.period {
		return false
	}
	return w.count > l.limit
}

func (l *FixedWindow) current(key string, now time.Time) *window {
	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.period {
		w = &window{start: now}
		l.windows[key] = w
		// Opportunistic cleanup keeps the map bounded under key churn.
		if len(l.windows) > 4096 {
			for k, old := range l.windows {
				if now.Sub(old.start) >= l.period {
					delete(l.windows, k)
				}
			}
		}
	}
	return w
}
