// Package domain defines the types and interfaces shared across every
// subsystem: job records, provider bindings, rate-limit buckets, cookie
// records, and the error taxonomy. Every other internal package imports
// domain for its shared vocabulary, the role internal/crawler plays for the
// teacher's own pipeline.
package domain

import "time"

// JobState represents the lifecycle state of a download job.
type JobState string

// Job state values. Transitions are restricted to the Scheduler's worker
// loop graph: PENDING -> PROCESSING -> {COMPLETED, FAILED, RETRYING},
// RETRYING -> PROCESSING. No other transition is valid.
const (
	JobPending    JobState = "PENDING"
	JobProcessing JobState = "PROCESSING"
	JobRetrying   JobState = "RETRYING"
	JobCompleted  JobState = "COMPLETED"
	JobFailed     JobState = "FAILED"
)

// JobParameters captures the per-job request knobs accepted at enqueue time.
type JobParameters struct {
	FormatID        string `json:"format_id,omitempty"`
	OutputTemplate  string `json:"output_template,omitempty"`
	AudioOnly       bool   `json:"audio_only,omitempty"`
	AudioFormat     string `json:"audio_format,omitempty"`
	AudioQuality    int    `json:"audio_quality,omitempty"`
	SubtitlesWanted bool   `json:"subtitles,omitempty"`
	SubtitleLang    string `json:"subtitle_lang,omitempty"`
	Priority        int    `json:"-"`
}

// Job is the record owned exclusively by the JobStore and mutated only by
// the Scheduler's workers while the job is in flight.
type Job struct {
	ID             string        `json:"id"`
	State          JobState      `json:"state"`
	URL            string        `json:"url"`
	Provider       string        `json:"provider,omitempty"`
	Params         JobParameters `json:"params"`
	Progress       int           `json:"progress"`
	AttemptCount   int           `json:"attempt_count"`
	ErrorCode      string        `json:"error_code,omitempty"`
	ErrorMessage   string        `json:"error_message,omitempty"`
	FilePath       string        `json:"file_path,omitempty"`
	FileSizeBytes  int64         `json:"file_size_bytes,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	StartedAt      *time.Time    `json:"started_at,omitempty"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
	PinnedFile     string        `json:"-"`
}

// CookieValidation is the tri-state result of a credential liveness probe.
type CookieValidation string

const (
	CookieUnchecked CookieValidation = "UNCHECKED"
	CookieValid     CookieValidation = "VALID"
	CookieInvalid   CookieValidation = "INVALID"
)

// CookieRecord tracks one provider's credential jar lifecycle.
type CookieRecord struct {
	Provider         string           `json:"provider"`
	Path             string           `json:"path"`
	LastMtime        time.Time        `json:"last_mtime"`
	LastValidatedAt  time.Time        `json:"last_validated_at,omitempty"`
	ValidationResult CookieValidation `json:"validation_result"`
	AgeSeconds       int64            `json:"age_seconds"`
	CacheUntil       time.Time        `json:"cache_until,omitempty"`
}

// ProviderBinding is the static configuration of one video-platform provider,
// fixed at startup from the providers config section.
type ProviderBinding struct {
	Name            string
	URLPatterns     []string
	Enabled         bool
	MaxAttempts     int
	BackoffSchedule []time.Duration
	CookiePath      string
}

// TokenBucket accounts admission for one (key identity, category) pair.
type TokenBucket struct {
	Capacity   float64
	RefillRate float64
	Tokens     float64
	LastRefill time.Time
}

// RateCategory distinguishes the two admission classes carrying independent
// buckets per key.
type RateCategory string

const (
	CategoryMetadata RateCategory = "metadata"
	CategoryDownload RateCategory = "download"
)

// Format describes one selectable stream as reported by the extractor.
type Format struct {
	FormatID         string   `json:"format_id"`
	Ext              string   `json:"ext"`
	ResolutionHeight *int     `json:"resolution_height,omitempty"`
	VCodec           string   `json:"vcodec,omitempty"`
	ACodec           string   `json:"acodec,omitempty"`
	ABR              *float64 `json:"abr,omitempty"`
	VBR              *float64 `json:"vbr,omitempty"`
	FilesizeBytes    *int64   `json:"filesize,omitempty"`
	IsHLS            bool     `json:"-"`
	ManifestURL      string   `json:"-"`
}

// Subtitle describes one available subtitle track alternative.
type Subtitle struct {
	Ext  string `json:"ext"`
	Auto bool   `json:"auto"`
}

// VideoMetadata is the explicit record decoded from the extractor's loosely
// typed info JSON. Unknown fields are ignored; absent fields stay nil rather
// than taking zero values that would read as real data.
type VideoMetadata struct {
	ID          string                `json:"id"`
	Title       string                `json:"title,omitempty"`
	Duration    *float64              `json:"duration,omitempty"`
	Uploader    string                `json:"uploader,omitempty"`
	ChannelID   *string               `json:"channel_id,omitempty"`
	UploadDate  string                `json:"upload_date,omitempty"`
	ViewCount   *int64                `json:"view_count,omitempty"`
	LikeCount   *int64                `json:"like_count,omitempty"`
	Thumbnail   string                `json:"thumbnail,omitempty"`
	Description string                `json:"description,omitempty"`
	IsLive      bool                  `json:"is_live,omitempty"`
	AgeLimit    *int                  `json:"age_limit,omitempty"`
	Formats     []Format              `json:"formats,omitempty"`
	Subtitles   map[string][]Subtitle `json:"subtitles,omitempty"`
}

// ValidatedTemplate is the parsed, immutable form of an output template:
// an ordered sequence of literal and placeholder segments drawn from the
// renderer's fixed whitelist.
type ValidatedTemplate struct {
	Segments []TemplateSegment
	Raw      string
}

// TemplateSegment is one piece of a ValidatedTemplate.
type TemplateSegment struct {
	Literal     string
	Placeholder string // empty when Literal is set
}

// ActiveFileSet tracks output paths (relative to the output directory)
// currently being produced by in-flight jobs, protecting them from the
// reaper. Mutated by Scheduler workers; read by StorageReaper.
type ActiveFileSet interface {
	Add(relPath string)
	Remove(relPath string)
	Contains(relPath string) bool
	Snapshot() []string
}
