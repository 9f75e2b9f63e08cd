package ratelimit

import (
	"errors"
	"testing"
	"time"
)

func TestAllowWithinLimit(t *testing.T) {
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	limiter := NewLimiter().WithClock(func() time.Time { return now })

	for i := 0; i < 3; i++ {
		if err := limiter.Allow("owner-1", 3, time.Minute); err != nil {
			t.Fatalf("call %d returned error: %v", i, err)
		}
	}
	if err := limiter.Allow("owner-1", 3, time.Minute); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestAllowResetsAfterWindow(t *testing.T) {
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	limiter := NewLimiter().WithClock(func() time.Time { return now })

	if err := limiter.Allow("owner-1", 1, time.Minute); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if err := limiter.Allow("owner-1", 1, time.Minute); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	now = now.Add(time.Minute)
	if err := limiter.Allow("owner-1", 1, time.Minute); err != nil {
		t.Fatalf("call after window: %v", err)
	}
}

func TestAllowIsolatesKeys(t *testing.T) {
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	limiter := NewLimiter().WithClock(func() time.Time { return now })

	if err := limiter.Allow("owner-1", 1, time.Minute); err != nil {
		t.Fatalf("owner-1: %v", err)
	}
	if err := limiter.Allow("owner-2", 1, time.Minute); err != nil {
		t.Fatalf("owner-2 must have its own window: %v", err)
	}
}

func TestAllowZeroLimitDisables(t *testing.T) {
	limiter := NewLimiter()
	for i := 0; i < 10; i++ {
		if err := limiter.Allow("owner-1", 0, time.Minute); err != nil {
			t.Fatalf("disabled limiter returned error: %v", err)
		}
	}
}

func TestPrune(t *testing.T) {
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	limiter := NewLimiter().WithClock(func() time.Time { return now })

	if err := limiter.Allow("owner-1", 1, time.Minute); err != nil {
		t.Fatalf("allow: %v", err)
	}

	now = now.Add(2 * time.Hour)
	limiter.Prune(time.Hour)

	if err := limiter.Allow("owner-1", 1, time.Minute); err != nil {
		t.Fatalf("pruned key must start fresh: %v", err)
	}
}
