package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/clipvault/extractor-api/internal/domain"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestAdmitWithinBurstSucceeds(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Now()}
	l := New(clock, map[domain.RateCategory]CategoryLimits{
		domain.CategoryMetadata: {RequestsPerMinute: 100, BurstCapacity: 20},
	})

	for i := 0; i < 20; i++ {
		admitted, _ := l.Admit("key-a", domain.CategoryMetadata)
		require.True(t, admitted, "request %d should be admitted within burst", i+1)
	}

	admitted, retryAfter := l.Admit("key-a", domain.CategoryMetadata)
	require.False(t, admitted)
	require.InDelta(t, 600*time.Millisecond, retryAfter, float64(200*time.Millisecond))
}

func TestAdmitRefillsOverTime(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Now()}
	l := New(clock, map[domain.RateCategory]CategoryLimits{
		domain.CategoryMetadata: {RequestsPerMinute: 60, BurstCapacity: 1},
	})

	admitted, _ := l.Admit("key-a", domain.CategoryMetadata)
	require.True(t, admitted)

	admitted, _ = l.Admit("key-a", domain.CategoryMetadata)
	require.False(t, admitted, "bucket should be empty immediately after consuming its single token")

	clock.Advance(time.Second)
	admitted, _ = l.Admit("key-a", domain.CategoryMetadata)
	require.True(t, admitted, "one token per second should have refilled")
}

func TestAdmitKeepsCategoriesIndependent(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Now()}
	l := New(clock, DefaultLimits())

	for i := 0; i < 20; i++ {
		admitted, _ := l.Admit("key-a", domain.CategoryMetadata)
		require.True(t, admitted)
	}
	admitted, _ := l.Admit("key-a", domain.CategoryMetadata)
	require.False(t, admitted)

	admitted, _ = l.Admit("key-a", domain.CategoryDownload)
	require.True(t, admitted, "download category bucket is unaffected by metadata exhaustion")
}

func TestAdmitKeepsKeysIndependent(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Now()}
	l := New(clock, map[domain.RateCategory]CategoryLimits{
		domain.CategoryMetadata: {RequestsPerMinute: 60, BurstCapacity: 1},
	})

	admitted, _ := l.Admit("key-a", domain.CategoryMetadata)
	require.True(t, admitted)
	admitted, _ = l.Admit("key-a", domain.CategoryMetadata)
	require.False(t, admitted)

	admitted, _ = l.Admit("key-b", domain.CategoryMetadata)
	require.True(t, admitted, "a different key must have its own bucket")
}

func TestTokensNeverExceedCapacity(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Now()}
	l := New(clock, map[domain.RateCategory]CategoryLimits{
		domain.CategoryMetadata: {RequestsPerMinute: 6000, BurstCapacity: 5},
	})

	clock.Advance(time.Hour)
	admitted, _ := l.Admit("key-a", domain.CategoryMetadata)
	require.True(t, admitted)

	b := l.bucketFor("key-a", domain.CategoryMetadata)
	b.mu.Lock()
	defer b.mu.Unlock()
	require.LessOrEqual(t, b.bucket.Tokens, b.bucket.Capacity)
}
