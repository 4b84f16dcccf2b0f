// Package cookie implements the CookieStore (C4): per-provider credential
// file lifecycle, TTL-cached validation through a liveness probe, and
// atomic hot-reload.
package cookie

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/clipvault/extractor-api/internal/domain"
	"github.com/clipvault/extractor-api/internal/metrics"
)

// netscapeHeaderPrefixes are the first-line markers that identify the
// well-known tab-separated credential jar format.
var netscapeHeaderPrefixes = []string{
	"# Netscape HTTP Cookie File",
	"# HTTP Cookie File",
}

// validationCacheTTL is how long a positive or negative probe result is
// trusted before the next validate() call re-probes.
const validationCacheTTL = time.Hour

// warningAge is the age after which readiness surfaces a staleness warning.
const warningAge = 7 * 24 * time.Hour

// Prober performs the liveness probe used to validate a credential: a
// metadata-only extractor call against a known stable video for the named
// provider. Implemented by a thin adapter over the RetryExecutor/Extractor
// so CookieStore never imports the extractor package directly.
type Prober interface {
	Probe(ctx context.Context, provider string, cookiePath string) error
}

type entry struct {
	mu     sync.Mutex
	record domain.CookieRecord
}

// Store implements domain.CookieStore.
type Store struct {
	clock  domain.Clock
	prober Prober

	mu      sync.RWMutex
	entries map[string]*entry
}

// New builds an empty Store. Providers are populated via Load.
func New(clock domain.Clock, prober Prober) *Store {
	return &Store{clock: clock, prober: prober, entries: make(map[string]*entry)}
}

var _ domain.CookieStore = (*Store)(nil)

func (s *Store) entryFor(provider string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[provider]
	if !ok {
		e = &entry{}
		s.entries[provider] = e
	}
	return e
}

// Load reads path, verifies its header, and records an UNCHECKED entry for
// provider.
func (s *Store) Load(_ context.Context, provider, path string) error {
	mtime, err := verifyCredentialFile(path)
	if err != nil {
		return err
	}

	e := s.entryFor(provider)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record = domain.CookieRecord{
		Provider:         provider,
		Path:             path,
		LastMtime:        mtime,
		ValidationResult: domain.CookieUnchecked,
	}
	return nil
}

// Validate returns the cached result if it is still within the TTL window
// and the file's mtime is unchanged; otherwise it re-probes and updates the
// cached record.
func (s *Store) Validate(ctx context.Context, provider string) (domain.CookieValidation, error) {
	e := s.entryFor(provider)
	e.mu.Lock()
	defer e.mu.Unlock()

	now := s.clock.Now()

	info, err := os.Stat(e.record.Path)
	if err != nil {
		return domain.CookieInvalid, domain.Wrap(domain.ErrMissingCookie, "stat cookie file", err)
	}
	if info.ModTime().After(e.record.LastMtime) {
		e.record.LastMtime = info.ModTime()
		e.record.ValidationResult = domain.CookieUnchecked
		e.record.CacheUntil = time.Time{}
	}

	if e.record.ValidationResult != domain.CookieUnchecked && now.Before(e.record.CacheUntil) {
		return e.record.ValidationResult, nil
	}

	probeErr := s.prober.Probe(ctx, provider, e.record.Path)
	e.record.LastValidatedAt = now
	e.record.CacheUntil = now.Add(validationCacheTTL)
	e.record.AgeSeconds = int64(now.Sub(e.record.LastMtime).Seconds())
	if probeErr != nil {
		e.record.ValidationResult = domain.CookieInvalid
		metrics.ObserveCookieValidationFailure(provider)
		return domain.CookieInvalid, domain.Wrap(domain.ErrCookieExpired, "cookie validation probe failed", probeErr)
	}
	e.record.ValidationResult = domain.CookieValid
	return domain.CookieValid, nil
}

// Reload atomically replaces provider's credential with the file at path,
// validating the new content first. On failure the previous record (value
// and mtime) is restored and a failure is signaled to the caller.
func (s *Store) Reload(ctx context.Context, provider, path string) error {
	e := s.entryFor(provider)

	e.mu.Lock()
	previous := e.record
	e.mu.Unlock()

	mtime, err := verifyCredentialFile(path)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.record = domain.CookieRecord{
		Provider:         provider,
		Path:             path,
		LastMtime:        mtime,
		ValidationResult: domain.CookieUnchecked,
	}
	e.mu.Unlock()

	if _, err := s.Validate(ctx, provider); err != nil {
		e.mu.Lock()
		e.record = previous
		e.mu.Unlock()
		return domain.Wrap(domain.ErrCookieExpired, "reloaded cookie failed validation, previous credential restored", err)
	}
	return nil
}

// Age returns the time elapsed since the credential file's mtime.
func (s *Store) Age(provider string) (time.Duration, error) {
	e := s.entryFor(provider)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.record.Path == "" {
		return 0, domain.NewError(domain.ErrMissingCookie, fmt.Sprintf("no cookie loaded for provider %s", provider))
	}
	return s.clock.Now().Sub(e.record.LastMtime), nil
}

// Snapshot returns every provider's current record, for the admin cookie
// status endpoint.
func (s *Store) Snapshot() []domain.CookieRecord {
	s.mu.RLock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	s.mu.RUnlock()

	out := make([]domain.CookieRecord, 0, len(names))
	for _, name := range names {
		e := s.entryFor(name)
		e.mu.Lock()
		out = append(out, e.record)
		e.mu.Unlock()
	}
	return out
}

// IsStale reports whether record's age warrants the readiness staleness
// warning.
func IsStale(record domain.CookieRecord, now time.Time) bool {
	return now.Sub(record.LastMtime) > warningAge
}

func verifyCredentialFile(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, domain.Wrap(domain.ErrMissingCookie, fmt.Sprintf("cookie file not found: %s", path), err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return time.Time{}, domain.Wrap(domain.ErrMissingCookie, "read cookie file", err)
	}

	firstLine := firstNonBlankLine(string(data))
	for _, prefix := range netscapeHeaderPrefixes {
		if strings.HasPrefix(firstLine, prefix) {
			return info.ModTime(), nil
		}
	}
	return time.Time{}, domain.NewError(domain.ErrMissingCookie, fmt.Sprintf("%s does not look like a cookie jar file", path))
}

func firstNonBlankLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}
