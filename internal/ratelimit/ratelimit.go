// Package ratelimit provides a fixed-window in-memory limiter used to slow
// reminder and token-validation abuse.
package ratelimit

import (
	"sync"
	"time"

	apperrors "github.com/signethq/signet/internal/platform/errors"
)

// ErrRateLimited indicates the caller exhausted its window allowance.
var ErrRateLimited = apperrors.New(apperrors.CodeRateLimited, "rate limit exceeded, retry later")

type window struct {
	start time.Time
	count int
}

// Limiter tracks per-key fixed windows. The zero value is not usable; use
// NewLimiter.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	clock   func() time.Time
}

// NewLimiter creates an empty limiter.
func NewLimiter() *Limiter {
	return &Limiter{windows: make(map[string]*window), clock: time.Now}
}

// WithClock overrides the limiter clock. Intended for tests.
func (l *Limiter) WithClock(clock func() time.Time) *Limiter {
	l.clock = clock
	return l
}

// Allow consumes one unit from the key's window. It returns ErrRateLimited
// once limit calls have landed inside the same window.
func (l *Limiter) Allow(key string, limit int, windowSize time.Duration) error {
	if l == nil || limit <= 0 || windowSize <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= windowSize {
		l.windows[key] = &window{start: now, count: 1}
		return nil
	}
	if w.count >= limit {
		return apperrors.WithMetadata(apperrors.CodeRateLimited,
			"rate limit exceeded, retry later",
			map[string]string{"Key": key})
	}
	w.count++
	return nil
}

// Prune drops windows that ended before the cutoff. Callers run it
// periodically to bound memory on long-lived processes.
func (l *Limiter) Prune(olderThan time.Duration) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.clock().Add(-olderThan)
	for key, w := range l.windows {
		if w.start.Before(cutoff) {
			delete(l.windows, key)
		}
	}
}
