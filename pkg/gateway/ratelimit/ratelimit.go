// Package ratelimit implements a per-client fixed-window request
// limiter for the question generation endpoint.
package ratelimit

import (
	"sync"
	"time"
)

type Config struct {
	// Limit is the number of requests allowed per client per window.
	// Zero disables limiting.
	Limit  int
	Window time.Duration

	// Operational bound for the in-memory map (single-process only).
	MaxEntries int
}

// Limiter tracks one counting window per client key.
type Limiter struct {
	cfg Config

	mu sync.Mutex
	m  map[string]*window
}

type window struct {
	start time.Time
	count int
}

func New(cfg Config) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = time.Hour
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10_000
	}
	return &Limiter{
		cfg: cfg,
		m:   make(map[string]*window),
	}
}

type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
	// RetryAfter is whole seconds until the window rolls, only set on
	// denials.
	RetryAfter int
}

// Allow records one request for key and reports whether it fits in the
// current window.
func (l *Limiter) Allow(key string, now time.Time) Decision {
	if l.cfg.Limit <= 0 {
		return Decision{Allowed: true, Limit: 0, Remaining: -1, Reset: now}
	}
	if key == "" {
		key = "anonymous"
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.m) >= l.cfg.MaxEntries {
		l.gcLocked(now)
		// If still too big, drop one arbitrary entry (bounded memory
		// over perfect fairness).
		if len(l.m) >= l.cfg.MaxEntries {
			for k := range l.m {
				delete(l.m, k)
				break
			}
		}
	}

	w, ok := l.m[key]
	if !ok || now.Sub(w.start) >= l.cfg.Window {
		w = &window{start: now}
		l.m[key] = w
	}
	reset := w.start.Add(l.cfg.Window)

	if w.count >= l.cfg.Limit {
		retryAfter := int(reset.Sub(now).Seconds()) + 1
		if retryAfter < 1 {
			retryAfter = 1
		}
		return Decision{
			Allowed:    false,
			Limit:      l.cfg.Limit,
			Remaining:  0,
			Reset:      reset,
			RetryAfter: retryAfter,
		}
	}

	w.count++
	return Decision{
		Allowed:   true,
		Limit:     l.cfg.Limit,
		Remaining: l.cfg.Limit - w.count,
		Reset:     reset,
	}
}

// gcLocked drops windows that rolled over and were never revisited.
func (l *Limiter) gcLocked(now time.Time) {
	for k, w := range l.m {
		if now.Sub(w.start) >= l.cfg.Window {
			delete(l.m, k)
		}
	}
}
