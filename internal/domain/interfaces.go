package domain

import (
	"context"
	"time"
)

// JobStore persists job records in memory for the process lifetime.
type JobStore interface {
	Create(ctx context.Context, job Job) error
	Update(ctx context.Context, id string, mutate func(*Job) error) error
	Get(ctx context.Context, id string) (Job, error)
	List(ctx context.Context, state JobState, limit int) ([]Job, error)
}

// Queue is the bounded priority queue the Scheduler holds. Lower priority
// values are dequeued first; ties break FIFO by enqueue order.
type Queue interface {
	Enqueue(ctx context.Context, jobID string, priority int) error
	Dequeue(ctx context.Context) (jobID string, err error)
	Len() int
}

// ExtractorRequest carries everything ExtractorInvoker needs to build an
// argument vector for one subprocess call.
type ExtractorRequest struct {
	URL            string
	CookiePath     string
	InfoOnly       bool
	FormatID       string
	OutputTemplate string
	AudioOnly      bool
	AudioFormat    string
	AudioQuality   int
	SubtitlesWanted bool
	SubtitleLang   string
}

// ExtractorResult is what ExtractorInvoker returns on a successful exit.
type ExtractorResult struct {
	Metadata  *VideoMetadata // set for info operations
	FilePath  string         // set for download operations
	FileSize  int64
	Stdout    string
	StderrTail string
}

// Extractor invokes the external command-line tool.
type Extractor interface {
	Run(ctx context.Context, req ExtractorRequest) (ExtractorResult, error)
}

// RetryExecutor wraps an Extractor call with classification, backoff and
// bounded attempts.
type RetryExecutor interface {
	Do(ctx context.Context, provider ProviderBinding, req ExtractorRequest, onAttempt func(attempt int, err error)) (ExtractorResult, error)
}

// Limiter is the per-(key, category) token bucket admission gate. Admit
// never blocks: it returns immediately with either admission or a
// retry-after duration.
type Limiter interface {
	Admit(keyHash string, category RateCategory) (admitted bool, retryAfter time.Duration)
}

// CookieStore manages per-provider credential file lifecycle.
type CookieStore interface {
	Load(ctx context.Context, provider, path string) error
	Validate(ctx context.Context, provider string) (CookieValidation, error)
	Reload(ctx context.Context, provider, path string) error
	Age(provider string) (time.Duration, error)
	Snapshot() []CookieRecord
}

// ProviderDispatcher selects the provider binding for a URL.
type ProviderDispatcher interface {
	Dispatch(url string) (ProviderBinding, error)
	Enabled() []string
	Disabled() []string
}

// Clock returns the current time; substituted with a fake in tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job and request identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Hasher computes a digest, used for the hashed key identity surfaced in
// logs in place of a raw API key.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Validator performs the pure, side-effect-free input checks of C1.
type Validator interface {
	ValidateURL(url string) error
	ValidateFormatID(formatID string) error
	ValidateAudioFormat(format string) error
	ValidateAudioQuality(quality int) error
	ValidateSubtitleLang(lang string) error
}

// TemplateRenderer parses and materializes output filename templates.
type TemplateRenderer interface {
	Parse(raw string) (ValidatedTemplate, error)
	Render(tmpl ValidatedTemplate, meta VideoMetadata, outputDir string) (string, error)
}

// Redactor strips credentials from argv vectors and log fields.
type Redactor interface {
	RedactArgv(argv []string) []string
	HashKey(rawKey string) (string, error)
}

// AuthGate authenticates incoming requests.
type AuthGate interface {
	Authenticate(presentedKey string) (keyHash string, ok bool)
}

// ComponentStatus is one entry in a ReadinessProbe aggregate.
type ComponentStatus struct {
	Name    string
	Healthy bool
	Detail  string
}

// ReadinessProbe aggregates component health for /health and /readiness.
type ReadinessProbe interface {
	Check(ctx context.Context) (healthy bool, components []ComponentStatus)
}

// Reaper deletes stale output files under disk-usage or explicit triggers.
type Reaper interface {
	// Run evaluates disk usage and cleans up stale output files. explicit
	// marks an admin-triggered call, which forces evaluation even below
	// CleanupThreshold; dryRun independently controls whether matching
	// files are actually removed or only counted.
	Run(ctx context.Context, dryRun, explicit bool) (filesDeleted int, bytesReclaimed int64, err error)
}
