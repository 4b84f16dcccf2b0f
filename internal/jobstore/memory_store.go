// Package memory implements the JobStore (C10): an in-memory mapping from
// job ID to Job, with a background sweeper that evicts terminal records
// past their TTL.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/clipvault/extractor-api/internal/domain"
	"go.uber.org/zap"
)

// DefaultJobTTL is how long a terminal job record is retained after
// completion before the sweeper removes it.
const DefaultJobTTL = 24 * time.Hour

// JobStore is an in-memory implementation of domain.JobStore.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]domain.Job

	clock  domain.Clock
	ttl    time.Duration
	logger *zap.Logger
}

// New constructs a JobStore. Call StartSweeper to run the TTL eviction loop.
func New(clock domain.Clock, ttl time.Duration, logger *zap.Logger) *JobStore {
	if ttl <= 0 {
		ttl = DefaultJobTTL
	}
	return &JobStore{
		jobs:   make(map[string]domain.Job),
		clock:  clock,
		ttl:    ttl,
		logger: logger.Named("jobstore"),
	}
}

var _ domain.JobStore = (*JobStore)(nil)

// Create inserts a new job record. It is an error for job.ID to already
// exist.
func (s *JobStore) Create(_ context.Context, job domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return domain.NewError(domain.ErrJobNotFound, "job id already exists")
	}
	s.jobs[job.ID] = job
	return nil
}

// Update applies mutate to the job under id as an exclusive read-modify-
// write. Only Scheduler workers call this.
func (s *JobStore) Update(_ context.Context, id string, mutate func(*domain.Job) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.NewError(domain.ErrJobNotFound, "job not found: "+id)
	}
	if err := mutate(&job); err != nil {
		return err
	}
	s.jobs[id] = job
	return nil
}

// Get returns a consistent snapshot of the job under id.
func (s *JobStore) Get(_ context.Context, id string) (domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, domain.NewError(domain.ErrJobNotFound, "job not found: "+id)
	}
	return job, nil
}

// List returns jobs matching state (or all, if state is ""), newest first,
// bounded to limit (0 means unbounded).
func (s *JobStore) List(_ context.Context, state domain.JobState, limit int) ([]domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if state != "" && job.State != state {
			continue
		}
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// StartSweeper runs the TTL eviction loop until ctx is canceled. Records
// still live (no CompletedAt) are never removed.
func (s *JobStore) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()
}

func (s *JobStore) sweep() {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, job := range s.jobs {
		if job.CompletedAt == nil {
			continue
		}
		if now.Sub(*job.CompletedAt) > s.ttl {
			delete(s.jobs, id)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Debug("swept expired jobs", zap.Int("removed", removed))
	}
}
