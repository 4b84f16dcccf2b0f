// Package redact implements the Redactor (C3): stripping credentials from
// extractor argv vectors before they are logged, and reducing raw API keys
// to a stable, non-reversible identity for log correlation.
package redact

import (
	"strings"

	"github.com/clipvault/extractor-api/internal/domain"
)

const sentinel = "[REDACTED]"

// hashPrefixLen is the number of hex characters of the SHA-256 digest kept
// as the logged key identity.
const hashPrefixLen = 12

// credentialFlags are argv flags whose following element carries a
// credential and must never reach a log line verbatim.
var credentialFlags = map[string]struct{}{
	"--cookies":        {},
	"--username":       {},
	"-u":               {},
	"--password":       {},
	"-p":               {},
	"--video-password": {},
}

// Redactor implements domain.Redactor.
type Redactor struct {
	hasher domain.Hasher
}

// New builds a Redactor that hashes keys with hasher.
func New(hasher domain.Hasher) *Redactor {
	return &Redactor{hasher: hasher}
}

var _ domain.Redactor = (*Redactor)(nil)

// RedactArgv returns a copy of argv with every credential-bearing value
// replaced by a sentinel token. The flag token itself is kept so the
// redacted vector still reads as a recognizable command line.
func (r *Redactor) RedactArgv(argv []string) []string {
	out := make([]string, len(argv))
	copy(out, argv)

	for i, token := range out {
		if _, ok := credentialFlags[token]; ok && i+1 < len(out) {
			out[i+1] = sentinel
			continue
		}
		if strings.HasPrefix(strings.ToLower(token), "--add-header=authorization") ||
			strings.HasPrefix(strings.ToLower(token), "authorization:") {
			out[i] = authorizationFlagName(token) + "=" + sentinel
		}
	}
	return out
}

func authorizationFlagName(token string) string {
	if idx := strings.Index(token, "="); idx >= 0 {
		return token[:idx]
	}
	return "Authorization"
}

// HashKey reduces rawKey to a truncated SHA-256 hex prefix suitable for
// appearing in logs in place of the raw credential.
func (r *Redactor) HashKey(rawKey string) (string, error) {
	full, err := r.hasher.Hash([]byte(rawKey))
	if err != nil {
		return "", domain.Wrap(domain.ErrAuthFailed, "hash api key", err)
	}
	if len(full) <= hashPrefixLen {
		return full, nil
	}
	return full[:hashPrefixLen], nil
}
