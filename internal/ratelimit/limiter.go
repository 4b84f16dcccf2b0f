// Package ratelimit implements the TokenBucketLimiter (C5): per-(key,
// category) token bucket admission. Admission never blocks — callers either
// get through or receive a retry-after duration.
package ratelimit

import (
	"sync"
	"time"

	"github.com/clipvault/extractor-api/internal/domain"
	"github.com/clipvault/extractor-api/internal/metrics"
)

// CategoryLimits configures one RateCategory's refill rate and burst
// capacity, mirroring the original DEFAULT_LIMITS table (metadata:
// rpm=100/burst=20, download: rpm=10/burst=20).
type CategoryLimits struct {
	RequestsPerMinute int
	BurstCapacity     int
}

// DefaultLimits returns the spec's documented defaults.
func DefaultLimits() map[domain.RateCategory]CategoryLimits {
	return map[domain.RateCategory]CategoryLimits{
		domain.CategoryMetadata: {RequestsPerMinute: 100, BurstCapacity: 20},
		domain.CategoryDownload: {RequestsPerMinute: 10, BurstCapacity: 20},
	}
}

type bucketKey struct {
	key      string
	category domain.RateCategory
}

type lockedBucket struct {
	mu     sync.Mutex
	bucket domain.TokenBucket
}

// Limiter implements domain.Limiter. Buckets are created lazily on first
// admission for a given (key, category) pair and are never evicted during
// the process lifetime.
type Limiter struct {
	clock  domain.Clock
	limits map[domain.RateCategory]CategoryLimits

	mu      sync.Mutex
	buckets map[bucketKey]*lockedBucket
}

// New builds a Limiter. limits supplies the per-category capacity/refill
// rate; pass DefaultLimits() for the documented defaults.
func New(clock domain.Clock, limits map[domain.RateCategory]CategoryLimits) *Limiter {
	return &Limiter{
		clock:   clock,
		limits:  limits,
		buckets: make(map[bucketKey]*lockedBucket),
	}
}

var _ domain.Limiter = (*Limiter)(nil)

func (l *Limiter) bucketFor(key string, category domain.RateCategory) *lockedBucket {
	bk := bucketKey{key: key, category: category}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[bk]; ok {
		return b
	}

	cfg := l.limits[category]
	capacity := float64(cfg.BurstCapacity)
	if capacity == 0 {
		capacity = 20
	}
	rpm := cfg.RequestsPerMinute
	if rpm == 0 {
		rpm = 60
	}
	b := &lockedBucket{
		bucket: domain.TokenBucket{
			Capacity:   capacity,
			RefillRate: float64(rpm) / 60.0,
			Tokens:     capacity,
			LastRefill: l.clock.Now(),
		},
	}
	l.buckets[bk] = b
	return b
}

// Admit refills keyHash's bucket for category, then consumes one token if
// available. It never blocks.
func (l *Limiter) Admit(keyHash string, category domain.RateCategory) (bool, time.Duration) {
	b := l.bucketFor(keyHash, category)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := l.clock.Now()
	elapsed := now.Sub(b.bucket.LastRefill).Seconds()
	if elapsed > 0 {
		b.bucket.Tokens += elapsed * b.bucket.RefillRate
		if b.bucket.Tokens > b.bucket.Capacity {
			b.bucket.Tokens = b.bucket.Capacity
		}
	}
	b.bucket.LastRefill = now

	if b.bucket.Tokens >= 1 {
		b.bucket.Tokens--
		return true, 0
	}

	retryAfter := time.Duration((1 - b.bucket.Tokens) / b.bucket.RefillRate * float64(time.Second))
	metrics.ObserveRateLimitDenied(string(category))
	return false, retryAfter
}
