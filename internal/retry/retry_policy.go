// Package retry implements the RetryExecutor (C8): stderr/error
// classification, fixed backoff schedule, and bounded attempts wrapped
// around an Extractor call.
package retry

import (
	"context"
	"regexp"
	"time"

	"github.com/clipvault/extractor-api/internal/domain"
	"go.uber.org/zap"
)

// retriablePatterns are matched against stderr/error text to classify a
// failure as retriable. Anything not matching one of these (private video,
// invalid format, auth failure, disk full) is non-retriable and bypasses
// remaining attempts.
var retriablePatterns = []*regexp.Regexp{
	regexp.MustCompile(`HTTP Error 5\d\d`),
	regexp.MustCompile(`(?i)connection reset`),
	regexp.MustCompile(`(?i)timeout`),
	regexp.MustCompile(`(?i)too many requests`),
}

// MetadataTimeout is the per-attempt timeout enforced on metadata
// operations. A subprocess killed for exceeding it is treated as retriable
// unless it was the final attempt.
const MetadataTimeout = 10 * time.Second

// Executor wraps an Extractor with classification, sleep schedule, and
// bounded attempts.
type Executor struct {
	extractor domain.Extractor
	logger    *zap.Logger
}

// New builds an Executor around extractor.
func New(extractor domain.Extractor, logger *zap.Logger) *Executor {
	return &Executor{extractor: extractor, logger: logger.Named("retry")}
}

// IsRetriable classifies an error by matching its text against the known
// retriable patterns. A pure function over the error text, as required.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	text := err.Error()
	for _, pattern := range retriablePatterns {
		if pattern.MatchString(text) {
			return true
		}
	}
	return false
}

// Do runs req through the wrapped Extractor, retrying on retriable failures
// per provider's backoff schedule and max attempts. onAttempt, if non-nil,
// is invoked after every attempt (successful or not) with its 1-based
// index and the attempt's error, which is nil on success.
func (e *Executor) Do(ctx context.Context, provider domain.ProviderBinding, req domain.ExtractorRequest, onAttempt func(attempt int, err error)) (domain.ExtractorResult, error) {
	maxAttempts := provider.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	schedule := provider.BackoffSchedule
	if len(schedule) == 0 {
		schedule = []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attemptCtx := ctx
		var cancel context.CancelFunc
		if req.InfoOnly {
			attemptCtx, cancel = context.WithTimeout(ctx, MetadataTimeout)
		}

		result, err := e.extractor.Run(attemptCtx, req)
		if cancel != nil {
			cancel()
		}
		if onAttempt != nil {
			onAttempt(attempt, err)
		}
		if err == nil {
			return result, nil
		}
		lastErr = err

		isLast := attempt == maxAttempts
		retriable := IsRetriable(err)
		if attemptCtx.Err() == context.DeadlineExceeded {
			retriable = !isLast
		}

		e.logger.Warn("extractor attempt failed",
			zap.Int("attempt", attempt),
			zap.Bool("retriable", retriable),
			zap.Error(err))

		if !retriable || isLast {
			break
		}

		idx := attempt - 1
		if idx >= len(schedule) {
			idx = len(schedule) - 1
		}
		select {
		case <-ctx.Done():
			return domain.ExtractorResult{}, ctx.Err()
		case <-time.After(schedule[idx]):
		}
	}

	if lastErr == nil {
		lastErr = context.Canceled
	}
	if kind, ok := domain.KindOf(lastErr); ok {
		return domain.ExtractorResult{}, domain.Wrap(kind, "extractor failed after retries", lastErr)
	}
	return domain.ExtractorResult{}, domain.Wrap(domain.ErrDownloadFailed, "extractor failed after retries", lastErr)
}
