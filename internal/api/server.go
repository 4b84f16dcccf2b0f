// Package api exposes the HTTP interface for the extractor service: health
// and metrics surfaces, the synchronous metadata endpoints, the
// asynchronous download queue, and a small set of admin operations.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clipvault/extractor-api/internal/domain"
	"github.com/clipvault/extractor-api/internal/metrics"
)

// JobSubmitter is the subset of the Scheduler the HTTP layer drives.
type JobSubmitter interface {
	Submit(ctx context.Context, jobID string, priority int) error
	QueueDepth() int
}

// Priority values assigned at enqueue time, per the scheduling contract:
// metadata never enters the queue, downloads enter at a lower priority
// than nothing else competes with.
const downloadPriority = 10

// Deps collects every service Server dispatches to. Built once by
// cmd/extractorapi from an app.App and handed to NewServer.
type Deps struct {
	Logger     *zap.Logger
	Validator  domain.Validator
	Dispatcher domain.ProviderDispatcher
	Retrier    domain.RetryExecutor
	Limiter    domain.Limiter
	Jobs       domain.JobStore
	Scheduler  JobSubmitter
	IDGen      domain.IDGenerator
	AuthGate   domain.AuthGate
	Readiness  domain.ReadinessProbe
	Cookies    domain.CookieStore
	Reaper     domain.Reaper
	HeaderName string
	MetricsHandler http.Handler
}

// Server wires HTTP handlers to the service's internal components.
type Server struct {
	router chi.Router
	deps   Deps
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and the full route table.
func NewServer(deps Deps) *Server {
	if deps.HeaderName == "" {
		deps.HeaderName = "X-API-Key"
	}
	s := &Server{deps: deps, logger: deps.Logger.Named("api")}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/health", s.health)
	r.Get("/liveness", s.liveness)
	r.Get("/readiness", s.readiness)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/info", s.info)
		r.Get("/formats", s.formats)
		r.Post("/download", s.download)
		r.Get("/jobs", s.listJobs)
		r.Get("/jobs/{job_id}", s.jobStatus)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/validate-cookie", s.validateCookie)
			r.Post("/reload-cookie", s.reloadCookie)
			r.Post("/reap", s.reap)
			r.Get("/cookies", s.cookieSnapshot)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// health aggregates every readiness component into a single boolean.
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	healthy, components := s.deps.Readiness.Check(r.Context())
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"status":     boolStatus(healthy),
		"components": components,
	})
}

// liveness is a pure process-alive signal, independent of readiness.
func (s *Server) liveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// readiness answers "can accept traffic", distinct from liveness.
func (s *Server) readiness(w http.ResponseWriter, r *http.Request) {
	healthy, components := s.deps.Readiness.Check(r.Context())
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"status":     boolStatus(healthy),
		"components": components,
	})
}

func boolStatus(healthy bool) string {
	if healthy {
		return "healthy"
	}
	return "unhealthy"
}

// info handles the synchronous metadata lookup.
func (s *Server) info(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	meta, err := s.fetchMetadata(r, rawURL)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

// formats handles the synchronous format-list lookup, returning the
// already quality-sorted slice the extractor produced.
func (s *Server) formats(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	meta, err := s.fetchMetadata(r, rawURL)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"formats": meta.Formats})
}

// fetchMetadata runs the shared validate -> rate-limit -> dispatch ->
// retry-wrapped-invoke path common to info and formats.
func (s *Server) fetchMetadata(r *http.Request, rawURL string) (*domain.VideoMetadata, error) {
	if err := s.deps.Validator.ValidateURL(rawURL); err != nil {
		return nil, err
	}

	keyHash, _ := keyHashFrom(r.Context())
	if admitted, retryAfter := s.deps.Limiter.Admit(keyHash, domain.CategoryMetadata); !admitted {
		return nil, rateLimitError(retryAfter)
	}

	binding, err := s.deps.Dispatcher.Dispatch(rawURL)
	if err != nil {
		return nil, err
	}

	req := domain.ExtractorRequest{URL: rawURL, CookiePath: binding.CookiePath, InfoOnly: true}
	result, err := s.deps.Retrier.Do(r.Context(), binding, req, func(attempt int, attemptErr error) {
		if attemptErr == nil {
			return
		}
		s.logger.Warn("metadata attempt failed", zap.Int("attempt", attempt), zap.Error(attemptErr))
	})
	if err != nil {
		return nil, err
	}
	return result.Metadata, nil
}

type downloadRequest struct {
	URL             string `json:"url"`
	FormatID        string `json:"format_id"`
	OutputTemplate  string `json:"output_template"`
	AudioOnly       bool   `json:"audio_only"`
	AudioFormat     string `json:"audio_format"`
	AudioQuality    int    `json:"audio_quality"`
	Subtitles       bool   `json:"subtitles"`
	SubtitleLang    string `json:"subtitle_lang"`
}

// download validates the request, admits it against the download rate
// category, creates the Job record, and enqueues it for the worker pool.
// It never runs the extractor inline.
func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, domain.NewError(domain.ErrInvalidFormat, "malformed JSON body"))
		return
	}

	if err := s.deps.Validator.ValidateURL(req.URL); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.deps.Validator.ValidateFormatID(req.FormatID); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.deps.Validator.ValidateAudioFormat(req.AudioFormat); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.deps.Validator.ValidateAudioQuality(req.AudioQuality); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.deps.Validator.ValidateSubtitleLang(req.SubtitleLang); err != nil {
		s.writeError(w, r, err)
		return
	}

	keyHash, _ := keyHashFrom(r.Context())
	if admitted, retryAfter := s.deps.Limiter.Admit(keyHash, domain.CategoryDownload); !admitted {
		s.writeError(w, r, rateLimitError(retryAfter))
		return
	}

	binding, err := s.deps.Dispatcher.Dispatch(req.URL)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	jobID, err := s.deps.IDGen.NewID()
	if err != nil {
		s.writeError(w, r, domain.Wrap(domain.ErrDownloadFailed, "generate job id", err))
		return
	}

	job := domain.Job{
		ID:       jobID,
		State:    domain.JobPending,
		URL:      req.URL,
		Provider: binding.Name,
		Params: domain.JobParameters{
			FormatID:        req.FormatID,
			OutputTemplate:  req.OutputTemplate,
			AudioOnly:       req.AudioOnly,
			AudioFormat:     req.AudioFormat,
			AudioQuality:    req.AudioQuality,
			SubtitlesWanted: req.Subtitles,
			SubtitleLang:    req.SubtitleLang,
			Priority:        downloadPriority,
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := s.deps.Jobs.Create(r.Context(), job); err != nil {
		s.writeError(w, r, domain.Wrap(domain.ErrDownloadFailed, "create job record", err))
		return
	}

	if err := s.deps.Scheduler.Submit(r.Context(), jobID, downloadPriority); err != nil {
		s.writeError(w, r, domain.Wrap(domain.ErrQueueFull, "queue is at capacity", err))
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

// jobStatus returns the current snapshot of one job.
func (s *Server) jobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.deps.Jobs.Get(r.Context(), jobID)
	if err != nil {
		s.writeError(w, r, domain.Wrap(domain.ErrJobNotFound, fmt.Sprintf("job %s not found", jobID), err))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// listJobs returns jobs filtered by state (optional) and capped at limit.
func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	state := domain.JobState(r.URL.Query().Get("state"))
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	jobs, err := s.deps.Jobs.List(r.Context(), state, limit)
	if err != nil {
		s.writeError(w, r, domain.Wrap(domain.ErrDownloadFailed, "list jobs", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

type cookieProviderRequest struct {
	Provider string `json:"provider"`
	Path     string `json:"path"`
}

// validateCookie forces an immediate liveness probe of one provider's
// credential, bypassing the cache.
func (s *Server) validateCookie(w http.ResponseWriter, r *http.Request) {
	var req cookieProviderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Provider == "" {
		s.writeError(w, r, domain.NewError(domain.ErrInvalidFormat, "provider is required"))
		return
	}
	result, err := s.deps.Cookies.Validate(r.Context(), req.Provider)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if result != domain.CookieValid {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"provider": req.Provider, "result": string(result)})
}

// reloadCookie hot-swaps a provider's credential file. On validation
// failure the prior credential is retained and the request fails.
func (s *Server) reloadCookie(w http.ResponseWriter, r *http.Request) {
	var req cookieProviderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Provider == "" || req.Path == "" {
		s.writeError(w, r, domain.NewError(domain.ErrInvalidFormat, "provider and path are required"))
		return
	}
	if err := s.deps.Cookies.Reload(r.Context(), req.Provider, req.Path); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"provider": req.Provider, "result": "reloaded"})
}

// reap triggers an out-of-schedule run of the storage reaper.
func (s *Server) reap(w http.ResponseWriter, r *http.Request) {
	dryRun := r.URL.Query().Get("dry_run") == "true"
	filesDeleted, bytesReclaimed, err := s.deps.Reaper.Run(r.Context(), dryRun, true)
	if err != nil {
		s.writeError(w, r, domain.Wrap(domain.ErrStorageFull, "reap failed", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"files_deleted":   filesDeleted,
		"bytes_reclaimed": bytesReclaimed,
		"dry_run":         dryRun,
	})
}

// cookieSnapshot lists every provider's credential record.
func (s *Server) cookieSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"cookies": s.deps.Cookies.Snapshot()})
}

func rateLimitError(retryAfter time.Duration) error {
	return &rateLimitExceeded{retryAfter: retryAfter}
}

// rateLimitExceeded carries the Retry-After duration alongside the
// standard *domain.Error so writeError can set the header without
// threading it through every call site.
type rateLimitExceeded struct {
	retryAfter time.Duration
}

func (e *rateLimitExceeded) Error() string {
	return "rate limit exceeded"
}

// requestIDKey and keyHashKey are context keys set by middleware and read
// by handlers/writeError.
type requestIDKey struct{}
type keyHashKey struct{}

func requestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

func keyHashFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(keyHashKey{}).(string)
	return id, ok
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("request_id", requestIDFrom(r.Context())),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("recovered", rec), zap.String("request_id", requestIDFrom(r.Context())))
				s.writeError(w, r, domain.NewError(domain.ErrDownloadFailed, "internal server error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

// authMiddleware extracts the credential from the configured header only
// (never a URL parameter) and rejects anything that doesn't match.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		presented := r.Header.Get(s.deps.HeaderName)
		keyHash, ok := s.deps.AuthGate.Authenticate(presented)
		if !ok {
			s.logger.Warn("authentication failed", zap.String("remote_addr", r.RemoteAddr))
			s.writeError(w, r, domain.NewError(domain.ErrAuthFailed, "authentication failed"))
			return
		}
		ctx := context.WithValue(r.Context(), keyHashKey{}, keyHash)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// errorBody is the fixed JSON shape every error response takes.
type errorBody struct {
	ErrorCode  string `json:"error_code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	Timestamp  string `json:"timestamp"`
	RequestID  string `json:"request_id"`
	Suggestion string `json:"suggestion,omitempty"`
}

// writeError maps err onto the fixed error taxonomy's HTTP status and
// emits the standard error body. A *rateLimitExceeded additionally sets
// Retry-After. Anything not carrying a recognized kind is treated as an
// internal failure rather than leaking raw error text.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var rle *rateLimitExceeded
	if errors.As(err, &rle) {
		seconds := int(rle.retryAfter.Seconds())
		if rle.retryAfter > 0 && seconds == 0 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		s.writeErrorBody(w, r, domain.ErrRateLimitExceeded, "rate limit exceeded", "")
		return
	}

	kind, ok := domain.KindOf(err)
	if !ok {
		s.logger.Error("unclassified error", zap.Error(err), zap.String("request_id", requestIDFrom(r.Context())))
		s.writeErrorBody(w, r, domain.ErrDownloadFailed, "internal server error", "")
		return
	}
	s.writeErrorBody(w, r, kind, err.Error(), "")
}

func (s *Server) writeErrorBody(w http.ResponseWriter, r *http.Request, kind domain.ErrorKind, message, suggestion string) {
	writeJSON(w, domain.StatusFor(kind), errorBody{
		ErrorCode:  string(kind),
		Message:    message,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		RequestID:  requestIDFrom(r.Context()),
		Suggestion: suggestion,
	})
}
