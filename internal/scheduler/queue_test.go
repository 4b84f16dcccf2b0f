package scheduler

import (
	"context"
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

func newFakeClock(now time.Time) *fakeClock { return &fakeClock{now: now} }

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

func TestEnqueueFailsAtCapacity(t *testing.T) {
	t.Parallel()

	q := NewPriorityQueue(2, newFakeClock(time.Now()))
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, "a", PriorityDownload))
	require.NoError(t, q.Enqueue(ctx, "b", PriorityDownload))

	err := q.Enqueue(ctx, "c", PriorityDownload)
	kind, ok := domain.KindOf(err)
	require.True(t, ok)
	require.Equal(t, domain.ErrQueueFull, kind)
}

func TestDequeuePrefersLowerPriority(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(time.Now())
	q := NewPriorityQueue(10, clock)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, "download", PriorityDownload))
	clock.Advance(time.Second)
	require.NoError(t, q.Enqueue(ctx, "metadata", PriorityMetadata))

	id, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "metadata", id, "lower priority value must dequeue first even if enqueued later")
}

func TestDequeueIsFIFOWithinPriority(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(time.Now())
	q := NewPriorityQueue(10, clock)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, "first", PriorityDownload))
	clock.Advance(time.Second)
	require.NoError(t, q.Enqueue(ctx, "second", PriorityDownload))

	id, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "first", id)
}

func TestDequeueBlocksUntilEnqueueOrCancel(t *testing.T) {
	t.Parallel()

	q := NewPriorityQueue(10, newFakeClock(time.Now()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := q.Dequeue(ctx)
	require.Error(t, err, "dequeue on an empty queue must block until canceled")

	q2 := NewPriorityQueue(10, newFakeClock(time.Now()))
	done := make(chan string, 1)
	go func() {
		id, _ := q2.Dequeue(context.Background())
		done <- id
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, q2.Enqueue(context.Background(), "arrived", PriorityMetadata))

	select {
	case id := <-done:
		require.Equal(t, "arrived", id)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not unblock after enqueue")
	}
}

func TestLenReflectsDepth(t *testing.T) {
	t.Parallel()

	q := NewPriorityQueue(5, newFakeClock(time.Now()))
	require.Equal(t, 0, q.Len())
	require.NoError(t, q.Enqueue(context.Background(), "a", PriorityDownload))
	require.Equal(t, 1, q.Len())
}
