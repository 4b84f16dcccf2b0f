// Package auth implements the AuthGate (C12): constant-time API key
// comparison and the hashed key identity surfaced to downstream components
// and logs.
package auth

import (
	"crypto/subtle"

	"github.com/clipvault/extractor-api/internal/domain"
)

// ExemptPaths lists the routes AuthGate never guards.
var ExemptPaths = map[string]bool{
	"/health":    true,
	"/liveness":  true,
	"/readiness": true,
	"/metrics":   true,
	"/docs":      true,
}

// Gate authenticates requests against a fixed set of configured keys.
type Gate struct {
	keys     []string
	redactor domain.Redactor
}

// New builds a Gate from the configured API keys.
func New(keys []string, redactor domain.Redactor) *Gate {
	return &Gate{keys: keys, redactor: redactor}
}

var _ domain.AuthGate = (*Gate)(nil)

// Authenticate compares presentedKey against every configured key using a
// constant-time comparison, returning the hashed identity of the matched
// key. No information about which configured key matched is leaked beyond
// the hash itself.
func (g *Gate) Authenticate(presentedKey string) (string, bool) {
	if presentedKey == "" {
		return "", false
	}
	matched := false
	for _, k := range g.keys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(presentedKey)) == 1 {
			matched = true
		}
	}
	if !matched {
		return "", false
	}
	hash, err := g.redactor.HashKey(presentedKey)
	if err != nil {
		return "", false
	}
	return hash, true
}
