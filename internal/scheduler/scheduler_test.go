package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/clipvault/extractor-api/internal/domain"
	memory "github.com/clipvault/extractor-api/internal/jobstore"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeDispatcher struct {
	binding domain.ProviderBinding
	err     error
}

func (d *fakeDispatcher) Dispatch(string) (domain.ProviderBinding, error) { return d.binding, d.err }
func (d *fakeDispatcher) Enabled() []string                               { return nil }
func (d *fakeDispatcher) Disabled() []string                              { return nil }

type fakeRetrier struct {
	result domain.ExtractorResult
	err    error
}

func (r *fakeRetrier) Do(_ context.Context, _ domain.ProviderBinding, _ domain.ExtractorRequest, _ func(int, error)) (domain.ExtractorResult, error) {
	return r.result, r.err
}

type fakeActiveSet struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newFakeActiveSet() *fakeActiveSet { return &fakeActiveSet{seen: make(map[string]bool)} }

func (s *fakeActiveSet) Add(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[p] = true
}
func (s *fakeActiveSet) Remove(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seen, p)
}
func (s *fakeActiveSet) Contains(p string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen[p]
}
func (s *fakeActiveSet) Snapshot() []string { return nil }

func waitForState(t *testing.T, jobs *memory.JobStore, id string, want domain.JobState) domain.Job {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		job, err := jobs.Get(context.Background(), id)
		require.NoError(t, err)
		if job.State == want {
			return job
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("job %s never reached state %s", id, want)
	return domain.Job{}
}

func TestWorkerLoopCompletesJobOnSuccess(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(time.Now())
	jobs := memory.New(clock, time.Hour, zap.NewNop())
	queue := NewPriorityQueue(10, clock)
	dispatcher := &fakeDispatcher{binding: domain.ProviderBinding{Name: "youtube"}}
	retrier := &fakeRetrier{result: domain.ExtractorResult{FilePath: "/out/video.mp4", FileSize: 1024}}
	active := newFakeActiveSet()

	sched := New(Config{}, queue, jobs, dispatcher, retrier, nil, active, clock, zap.NewNop())

	job := domain.Job{ID: "job-1", State: domain.JobPending, URL: "https://example.com/v", CreatedAt: clock.Now()}
	require.NoError(t, jobs.Create(context.Background(), job))
	require.NoError(t, sched.Submit(context.Background(), job.ID, PriorityDownload))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)

	got := waitForState(t, jobs, "job-1", domain.JobCompleted)
	require.Equal(t, "/out/video.mp4", got.FilePath)
	require.Equal(t, int64(1024), got.FileSizeBytes)
}

func TestWorkerLoopFailsJobOnExtractorError(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(time.Now())
	jobs := memory.New(clock, time.Hour, zap.NewNop())
	queue := NewPriorityQueue(10, clock)
	dispatcher := &fakeDispatcher{binding: domain.ProviderBinding{Name: "youtube"}}
	retrier := &fakeRetrier{err: domain.NewError(domain.ErrVideoUnavailable, "private video")}
	active := newFakeActiveSet()

	sched := New(Config{}, queue, jobs, dispatcher, retrier, nil, active, clock, zap.NewNop())

	job := domain.Job{ID: "job-2", State: domain.JobPending, URL: "https://example.com/v", CreatedAt: clock.Now()}
	require.NoError(t, jobs.Create(context.Background(), job))
	require.NoError(t, sched.Submit(context.Background(), job.ID, PriorityDownload))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)

	got := waitForState(t, jobs, "job-2", domain.JobFailed)
	require.Equal(t, string(domain.ErrVideoUnavailable), got.ErrorCode)
}

func TestWorkerLoopFailsOnUnknownProvider(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(time.Now())
	jobs := memory.New(clock, time.Hour, zap.NewNop())
	queue := NewPriorityQueue(10, clock)
	dispatcher := &fakeDispatcher{err: domain.NewError(domain.ErrInvalidURL, "no provider matches")}
	retrier := &fakeRetrier{}
	active := newFakeActiveSet()

	sched := New(Config{}, queue, jobs, dispatcher, retrier, nil, active, clock, zap.NewNop())

	job := domain.Job{ID: "job-3", State: domain.JobPending, URL: "https://unknown.example/v", CreatedAt: clock.Now()}
	require.NoError(t, jobs.Create(context.Background(), job))
	require.NoError(t, sched.Submit(context.Background(), job.ID, PriorityDownload))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)

	got := waitForState(t, jobs, "job-3", domain.JobFailed)
	require.Equal(t, string(domain.ErrInvalidURL), got.ErrorCode)
}

func TestSubmitRejectsWhenQueueFull(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(time.Now())
	jobs := memory.New(clock, time.Hour, zap.NewNop())
	queue := NewPriorityQueue(1, clock)
	sched := New(Config{}, queue, jobs, &fakeDispatcher{}, &fakeRetrier{}, nil, newFakeActiveSet(), clock, zap.NewNop())

	require.NoError(t, sched.Submit(context.Background(), "a", PriorityDownload))
	err := sched.Submit(context.Background(), "b", PriorityDownload)

	kind, ok := domain.KindOf(err)
	require.True(t, ok)
	require.Equal(t, domain.ErrQueueFull, kind)
}
