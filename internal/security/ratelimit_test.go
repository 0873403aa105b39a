package security

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestRateLimiter_AllowWithinLimit(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(RateLimitConfig{MessagesPerMin: 5})

	for i := range 5 {
		if err := rl.Allow(KindMessage, "npub1alice"); err != nil {
			t.Fatalf("Allow(%d) returned error: %v", i, err)
		}
	}

	// 6th should be denied.
	if err := rl.Allow(KindMessage, "npub1alice"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(RateLimitConfig{RequestsPerMin: 1})

	if err := rl.Allow(KindRequest, "10.0.0.1"); err != nil {
		t.Fatalf("first key: %v", err)
	}
	if err := rl.Allow(KindRequest, "10.0.0.2"); err != nil {
		t.Fatalf("second key: %v", err)
	}
	if err := rl.Allow(KindRequest, "10.0.0.1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited for exhausted key, got %v", err)
	}
	// Same key, different kind has its own budget.
	if err := rl.Allow(KindMessage, "10.0.0.1"); err != nil {
		t.Fatalf("message kind: %v", err)
	}
}

func TestRateLimiter_SlidingWindow(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(RateLimitConfig{MessagesPerMin: 2})
	rl.now = func() time.Time { return now }

	_ = rl.Allow(KindMessage, "k")
	_ = rl.Allow(KindMessage, "k")

	if err := rl.Allow(KindMessage, "k"); !errors.Is(err, ErrRateLimited) {
		t.Fatal("expected rate limit")
	}

	// Advance past the window.
	now = now.Add(61 * time.Second)

	if err := rl.Allow(KindMessage, "k"); err != nil {
		t.Fatalf("expected allow after window, got %v", err)
	}
}

func TestRateLimiter_UnknownKind(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(RateLimitConfig{})

	if err := rl.Allow("unknown_kind", "k"); err != nil {
		t.Fatalf("expected nil for unknown kind, got %v", err)
	}
}

func TestRateLimiter_Prune(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(RateLimitConfig{})
	rl.now = func() time.Time { return now }

	_ = rl.Allow(KindRequest, "a")
	now = now.Add(30 * time.Second)
	_ = rl.Allow(KindRequest, "b")
	now = now.Add(45 * time.Second)

	rl.Prune()

	if len(rl.buckets) != 1 {
		t.Fatalf("buckets after prune = %d, want 1", len(rl.buckets))
	}
	if _, ok := rl.buckets[KindRequest+"\x00b"]; !ok {
		t.Error("recent bucket was pruned")
	}
}

func TestRateLimiter_Defaults(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(RateLimitConfig{})

	if rl.limits[KindRequest] != 120 {
		t.Errorf("default RequestsPerMin = %d, want 120", rl.limits[KindRequest])
	}
	if rl.limits[KindMessage] != 30 {
		t.Errorf("default MessagesPerMin = %d, want 30", rl.limits[KindMessage])
	}
}

func TestRateLimiter_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(RateLimitConfig{MessagesPerMin: 1000})

	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = rl.Allow(KindMessage, "shared")
		}()
	}
	wg.Wait()

	if got := len(rl.buckets[KindMessage+"\x00shared"].events); got != 100 {
		t.Errorf("events = %d, want 100", got)
	}
}
