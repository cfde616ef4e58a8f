package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"serialtrust/internal/domain"
)

// memoryLimiter keeps a sliding window of admission timestamps per key.
// The registry mutex only guards the bucket map; each bucket carries its
// own lock so unrelated keys never serialize on each other.
type memoryLimiter struct {
	mu      sync.Mutex
	now     func() time.Time
	buckets map[string]*slidingBucket
	maxKeys int
}

type slidingBucket struct {
	mu       sync.Mutex
	admitted []time.Time
}

type MemoryLimiterConfig struct {
	Now     func() time.Time
	MaxKeys int
}

func NewMemoryLimiter(cfg MemoryLimiterConfig) domain.RateLimiter {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = 10000
	}
	return &memoryLimiter{
		now:     cfg.Now,
		buckets: make(map[string]*slidingBucket),
		maxKeys: cfg.MaxKeys,
	}
}

func (m *memoryLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (domain.RateLimitDecision, error) {
	if limit <= 0 {
		return domain.RateLimitDecision{Allowed: true, Limit: limit, Remaining: limit}, nil
	}
	now := m.now()
	cutoff := now.Add(-window)

	m.mu.Lock()
	bucket, ok := m.buckets[key]
	if !ok {
		if len(m.buckets) >= m.maxKeys {
			m.gc(cutoff)
		}
		if len(m.buckets) >= m.maxKeys {
			m.mu.Unlock()
			return domain.RateLimitDecision{}, errors.New("rate limiter capacity exceeded")
		}
		bucket = &slidingBucket{}
		m.buckets[key] = bucket
	}
	m.mu.Unlock()

	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	kept := bucket.admitted[:0]
	for _, ts := range bucket.admitted {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	bucket.admitted = kept

	if len(bucket.admitted) < limit {
		bucket.admitted = append(bucket.admitted, now)
		return domain.RateLimitDecision{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit - len(bucket.admitted),
			ResetAt:   bucket.admitted[0].Add(window),
		}, nil
	}

	// Throttled attempts are not recorded; they must not extend the window.
	return domain.RateLimitDecision{
		Allowed:   false,
		Limit:     limit,
		Remaining: 0,
		ResetAt:   bucket.admitted[0].Add(window),
	}, nil
}

func (m *memoryLimiter) gc(cutoff time.Time) {
	for key, bucket := range m.buckets {
		bucket.mu.Lock()
		stale := len(bucket.admitted) == 0 || !bucket.admitted[len(bucket.admitted)-1].After(cutoff)
		bucket.mu.Unlock()
		if stale {
			delete(m.buckets, key)
		}
	}
}
