package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryLimiterCeiling(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	limiter := NewMemoryLimiter(MemoryLimiterConfig{Now: func() time.Time { return now }})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		decision, err := limiter.Allow(ctx, "ip:1.2.3.4:class:write", 5, time.Minute)
		if err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
		if !decision.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
		if decision.Remaining != 5-i-1 {
			t.Fatalf("request %d: remaining %d", i, decision.Remaining)
		}
	}

	decision, err := limiter.Allow(ctx, "ip:1.2.3.4:class:write", 5, time.Minute)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if decision.Allowed {
		t.Fatal("sixth request in the window should be throttled")
	}
	if decision.Remaining != 0 {
		t.Fatalf("remaining %d", decision.Remaining)
	}

	// Other keys are unaffected.
	other, err := limiter.Allow(ctx, "ip:5.6.7.8:class:write", 5, time.Minute)
	if err != nil {
		t.Fatalf("allow other: %v", err)
	}
	if !other.Allowed {
		t.Fatal("unrelated key should not be throttled")
	}
}

func TestMemoryLimiterSlidingWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	limiter := NewMemoryLimiter(MemoryLimiterConfig{Now: func() time.Time { return now }})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if d, _ := limiter.Allow(ctx, "k", 3, time.Minute); !d.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if d, _ := limiter.Allow(ctx, "k", 3, time.Minute); d.Allowed {
		t.Fatal("fourth request should be throttled")
	}

	// Throttled attempts must not extend the window: advancing just past
	// the first admission frees exactly one slot.
	now = now.Add(61 * time.Second)
	d, err := limiter.Allow(ctx, "k", 3, time.Minute)
	if err != nil {
		t.Fatalf("allow after window: %v", err)
	}
	if !d.Allowed {
		t.Fatal("request after window expiry should be allowed")
	}
}

func TestMemoryLimiterStrictRegistration(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	limiter := NewMemoryLimiter(MemoryLimiterConfig{Now: func() time.Time { return now }})
	ctx := context.Background()

	d, _ := limiter.Allow(ctx, "reg", 1, time.Minute)
	if !d.Allowed {
		t.Fatal("first registration should be allowed")
	}
	d, _ = limiter.Allow(ctx, "reg", 1, time.Minute)
	if d.Allowed {
		t.Fatal("second registration in the window should be throttled")
	}
}

func TestMemoryLimiterCapacity(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	limiter := NewMemoryLimiter(MemoryLimiterConfig{Now: func() time.Time { return now }, MaxKeys: 2})
	ctx := context.Background()

	if _, err := limiter.Allow(ctx, "a", 1, time.Minute); err != nil {
		t.Fatalf("allow a: %v", err)
	}
	if _, err := limiter.Allow(ctx, "b", 1, time.Minute); err != nil {
		t.Fatalf("allow b: %v", err)
	}
	if _, err := limiter.Allow(ctx, "c", 1, time.Minute); err == nil {
		t.Fatal("expected capacity error for third key")
	}

	// Stale buckets are collected once their entries age out.
	now = now.Add(2 * time.Minute)
	if _, err := limiter.Allow(ctx, "c", 1, time.Minute); err != nil {
		t.Fatalf("allow c after gc: %v", err)
	}
}

func TestMemoryLimiterConcurrent(t *testing.T) {
	limiter := NewMemoryLimiter(MemoryLimiterConfig{})
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	allowed := make([]bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d, err := limiter.Allow(ctx, "shared", 5, time.Minute)
			if err != nil {
				t.Errorf("allow: %v", err)
				return
			}
			allowed[i] = d.Allowed
		}(i)
	}
	wg.Wait()

	count := 0
	for _, ok := range allowed {
		if ok {
			count++
		}
	}
	if count != 5 {
		t.Fatalf("expected exactly 5 admissions, got %d", count)
	}
}
