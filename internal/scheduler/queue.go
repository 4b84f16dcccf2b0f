package scheduler

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/clipvault/extractor-api/internal/domain"
)

// Priority values named in spec: metadata operations enter ahead of
// downloads.
const (
	PriorityMetadata = 1
	PriorityDownload = 10
)

type queuedJob struct {
	jobID      string
	priority   int
	enqueuedAt time.Time
	index      int
}

// jobHeap orders by priority ascending (lower = earlier), then by
// enqueue time ascending (FIFO within a priority).
type jobHeap []*queuedJob

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].enqueuedAt.Before(h[j].enqueuedAt)
}

func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *jobHeap) Push(x any) {
	item := x.(*queuedJob)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// PriorityQueue is a bounded, concurrency-safe priority queue of job IDs.
// Dequeue blocks idle consumers until a job is admitted or ctx ends.
type PriorityQueue struct {
	mu       sync.Mutex
	notEmpty chan struct{}
	heap     jobHeap
	capacity int
	clock    domain.Clock
}

// NewPriorityQueue constructs a queue bounded to capacity entries.
func NewPriorityQueue(capacity int, clock domain.Clock) *PriorityQueue {
	return &PriorityQueue{
		notEmpty: make(chan struct{}, 1),
		capacity: capacity,
		clock:    clock,
	}
}

var _ domain.Queue = (*PriorityQueue)(nil)

// Len reports the current queue depth.
func (q *PriorityQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}

// Enqueue admits jobID at priority, failing with QUEUE_FULL if the queue
// is at capacity.
func (q *PriorityQueue) Enqueue(_ context.Context, jobID string, priority int) error {
	q.mu.Lock()
	if q.heap.Len() >= q.capacity {
		q.mu.Unlock()
		return domain.NewError(domain.ErrQueueFull, "scheduler queue is at capacity")
	}
	heap.Push(&q.heap, &queuedJob{jobID: jobID, priority: priority, enqueuedAt: q.clock.Now()})
	q.mu.Unlock()

	select {
	case q.notEmpty <- struct{}{}:
	default:
	}
	return nil
}

// Dequeue blocks until a job is available or ctx is done.
func (q *PriorityQueue) Dequeue(ctx context.Context) (string, error) {
	for {
		q.mu.Lock()
		if q.heap.Len() > 0 {
			item := heap.Pop(&q.heap).(*queuedJob)
			q.mu.Unlock()
			return item.jobID, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-q.notEmpty:
		}
	}
}
