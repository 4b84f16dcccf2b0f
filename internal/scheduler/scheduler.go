// Package scheduler implements the Scheduler (C11): a bounded priority
// queue fed by HTTP handlers and drained by a fixed pool of worker
// contexts that drive each job through ExtractorInvoker/RetryExecutor to
// a terminal state.
package scheduler

import (
	"context"
	"sync"

	"github.com/clipvault/extractor-api/internal/domain"
	"github.com/clipvault/extractor-api/internal/metrics"
	"go.uber.org/zap"
)

// DefaultQueueCapacity and DefaultWorkerCount are the spec's scheduling
// defaults.
const (
	DefaultQueueCapacity = 100
	DefaultWorkerCount   = 5
)

// Config controls Scheduler sizing.
type Config struct {
	QueueCapacity int
	WorkerCount   int
	OutputDir     string
}

// AuditRecorder persists a terminal job's outcome for operator forensics.
// Optional: a Scheduler with no recorder set simply skips this step.
type AuditRecorder interface {
	RecordOutcome(ctx context.Context, job domain.Job) error
}

// Scheduler owns the bounded queue and the worker pool draining it.
type Scheduler struct {
	cfg        Config
	queue      domain.Queue
	jobs       domain.JobStore
	dispatcher domain.ProviderDispatcher
	retrier    domain.RetryExecutor
	renderer   domain.TemplateRenderer
	active     domain.ActiveFileSet
	clock      domain.Clock
	logger     *zap.Logger
	audit      AuditRecorder

	wg sync.WaitGroup
}

// New constructs a Scheduler. Call Start to launch the worker pool.
func New(
	cfg Config,
	queue domain.Queue,
	jobs domain.JobStore,
	dispatcher domain.ProviderDispatcher,
	retrier domain.RetryExecutor,
	renderer domain.TemplateRenderer,
	active domain.ActiveFileSet,
	clock domain.Clock,
	logger *zap.Logger,
) *Scheduler {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultQueueCapacity
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = DefaultWorkerCount
	}
	return &Scheduler{
		cfg:        cfg,
		queue:      queue,
		jobs:       jobs,
		dispatcher: dispatcher,
		retrier:    retrier,
		renderer:   renderer,
		active:     active,
		clock:      clock,
		logger:     logger.Named("scheduler"),
	}
}

// SetAuditRecorder attaches a recorder workers notify after every terminal
// transition. Must be called before Start; not safe to change concurrently
// with running workers.
func (s *Scheduler) SetAuditRecorder(audit AuditRecorder) {
	s.audit = audit
}

// Submit enqueues an already-created PENDING job at priority. Callers
// create the Job record via JobStore before calling Submit.
func (s *Scheduler) Submit(ctx context.Context, jobID string, priority int) error {
	if err := s.queue.Enqueue(ctx, jobID, priority); err != nil {
		return err
	}
	metrics.SetQueueDepth(s.queue.Len())
	return nil
}

// QueueDepth reports the current queue length, used by metrics and
// readiness.
func (s *Scheduler) QueueDepth() int { return s.queue.Len() }

// Start launches cfg.WorkerCount worker loops. Each runs until ctx is
// canceled.
func (s *Scheduler) Start(ctx context.Context) {
	for i := 0; i < s.cfg.WorkerCount; i++ {
		s.wg.Add(1)
		go s.workerLoop(ctx, i)
	}
}

// Wait blocks until all worker loops have returned. Extractor calls run
// under the ctx given to Start, so canceling it also stops in-flight calls.
func (s *Scheduler) Wait() { s.wg.Wait() }

func (s *Scheduler) workerLoop(ctx context.Context, workerIdx int) {
	defer s.wg.Done()
	for {
		jobID, err := s.queue.Dequeue(ctx)
		if err != nil {
			return
		}
		metrics.SetQueueDepth(s.queue.Len())
		s.processJob(ctx, jobID)
	}
}

func (s *Scheduler) processJob(ctx context.Context, jobID string) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		s.logger.Error("dequeued job not found in store", zap.String("job_id", jobID), zap.Error(err))
		return
	}

	binding, err := s.dispatcher.Dispatch(job.URL)
	if err != nil {
		s.failJob(ctx, jobID, job.Provider, err)
		return
	}

	startedAt := s.clock.Now()
	if err := s.jobs.Update(ctx, jobID, func(j *domain.Job) error {
		j.State = domain.JobProcessing
		j.StartedAt = &startedAt
		return nil
	}); err != nil {
		s.logger.Error("transition to processing failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}

	outputPath := s.plannedOutputPath(job)
	if outputPath != "" {
		s.active.Add(outputPath)
		defer s.active.Remove(outputPath)
	}

	req := domain.ExtractorRequest{
		URL:             job.URL,
		CookiePath:      binding.CookiePath,
		FormatID:        job.Params.FormatID,
		OutputTemplate:  job.Params.OutputTemplate,
		AudioOnly:       job.Params.AudioOnly,
		AudioFormat:     job.Params.AudioFormat,
		AudioQuality:    job.Params.AudioQuality,
		SubtitlesWanted: job.Params.SubtitlesWanted,
		SubtitleLang:    job.Params.SubtitleLang,
	}

	metrics.IncActiveWorkers()
	result, err := s.retrier.Do(ctx, binding, req, func(attempt int, attemptErr error) {
		metrics.ObserveJobAttempt(binding.Name)
		if attemptErr == nil {
			_ = s.jobs.Update(ctx, jobID, func(j *domain.Job) error {
				j.AttemptCount = attempt
				return nil
			})
			return
		}
		s.logger.Warn("retrying job", zap.String("job_id", jobID), zap.Int("attempt", attempt), zap.Error(attemptErr))
		_ = s.jobs.Update(ctx, jobID, func(j *domain.Job) error {
			j.State = domain.JobRetrying
			j.AttemptCount = attempt
			return nil
		})
		_ = s.jobs.Update(ctx, jobID, func(j *domain.Job) error {
			j.State = domain.JobProcessing
			return nil
		})
	})
	metrics.DecActiveWorkers()
	if err != nil {
		s.failJob(ctx, jobID, binding.Name, err)
		return
	}

	completedAt := s.clock.Now()
	if err := s.jobs.Update(ctx, jobID, func(j *domain.Job) error {
		j.State = domain.JobCompleted
		j.FilePath = result.FilePath
		j.FileSizeBytes = result.FileSize
		j.CompletedAt = &completedAt
		j.Progress = 100
		return nil
	}); err != nil {
		s.logger.Error("transition to completed failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	metrics.ObserveJobTerminal(string(domain.JobCompleted), binding.Name)
	s.recordAuditOutcome(ctx, jobID)
}

// recordAuditOutcome best-effort notifies the audit recorder, if any, with
// the job's final snapshot. Failures are logged, never surfaced to the
// worker loop: the audit trail is forensic, not load-bearing.
func (s *Scheduler) recordAuditOutcome(ctx context.Context, jobID string) {
	if s.audit == nil {
		return
	}
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return
	}
	if err := s.audit.RecordOutcome(ctx, job); err != nil {
		s.logger.Warn("audit log write failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

func (s *Scheduler) failJob(ctx context.Context, jobID, providerName string, cause error) {
	kind, ok := domain.KindOf(cause)
	if !ok {
		kind = domain.ErrDownloadFailed
	}
	completedAt := s.clock.Now()
	if err := s.jobs.Update(ctx, jobID, func(j *domain.Job) error {
		j.State = domain.JobFailed
		j.ErrorCode = string(kind)
		j.ErrorMessage = cause.Error()
		j.CompletedAt = &completedAt
		return nil
	}); err != nil {
		s.logger.Error("transition to failed failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	metrics.ObserveJobTerminal(string(domain.JobFailed), providerName)
	s.recordAuditOutcome(ctx, jobID)
}

// plannedOutputPath pins a job's reserved output file against the reaper
// while the job is in flight. Jobs using the default extractor-managed
// naming have no single resolvable path ahead of time and are not pinned.
func (s *Scheduler) plannedOutputPath(job domain.Job) string {
	if job.Params.OutputTemplate == "" || s.renderer == nil {
		return ""
	}
	tmpl, err := s.renderer.Parse(job.Params.OutputTemplate)
	if err != nil {
		return ""
	}
	path, err := s.renderer.Render(tmpl, domain.VideoMetadata{ID: job.ID}, s.cfg.OutputDir)
	if err != nil {
		return ""
	}
	return path
}
