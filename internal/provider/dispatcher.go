// Package provider implements the ProviderDispatcher (C9): URL-to-provider
// selection over an ordered list of static bindings, and the enable/disable
// bookkeeping driven by startup credential checks.
package provider

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/clipvault/extractor-api/internal/domain"
)

// hostPattern matches a host against an exact value or a suffix wildcard
// ("*.example.com" or ".example.com"), the same two pattern shapes the
// teacher's domain blocklist recognized, generalized here to select a
// provider rather than reject a host.
type hostPattern struct {
	exact  string
	suffix string
}

func parseHostPattern(raw string) hostPattern {
	value := strings.TrimSpace(strings.ToLower(raw))
	switch {
	case strings.HasPrefix(value, "*."):
		return hostPattern{suffix: strings.TrimPrefix(value, "*.")}
	case strings.HasPrefix(value, "."):
		return hostPattern{suffix: strings.TrimPrefix(value, ".")}
	default:
		return hostPattern{exact: value}
	}
}

func (p hostPattern) matches(host string) bool {
	host = strings.TrimSpace(strings.ToLower(host))
	if host == "" {
		return false
	}
	if p.exact != "" {
		return host == p.exact
	}
	return host == p.suffix || strings.HasSuffix(host, "."+p.suffix)
}

// binding pairs a ProviderBinding with its compiled host patterns.
type binding struct {
	domain.ProviderBinding
	patterns []hostPattern
}

// Dispatcher implements domain.ProviderDispatcher over a fixed,
// registration-ordered list of bindings set at startup.
type Dispatcher struct {
	bindings []binding
}

// New compiles bindings in the order given. Order is significant: the first
// enabled binding whose pattern set matches a URL wins.
func New(bindings []domain.ProviderBinding) *Dispatcher {
	d := &Dispatcher{}
	for _, b := range bindings {
		patterns := make([]hostPattern, 0, len(b.URLPatterns))
		for _, raw := range b.URLPatterns {
			patterns = append(patterns, parseHostPattern(raw))
		}
		d.bindings = append(d.bindings, binding{ProviderBinding: b, patterns: patterns})
	}
	return d
}

// Disable marks a registered provider disabled, e.g. when its credential was
// absent at startup and degraded mode is permitted.
func (d *Dispatcher) Disable(name string) {
	for i := range d.bindings {
		if d.bindings[i].Name == name {
			d.bindings[i].Enabled = false
			return
		}
	}
}

// Dispatch returns the first enabled binding whose pattern set matches url's
// host, in registration order. Disabled providers are never selected.
func (d *Dispatcher) Dispatch(rawURL string) (domain.ProviderBinding, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return domain.ProviderBinding{}, domain.NewError(domain.ErrInvalidURL, fmt.Sprintf("cannot parse url: %s", rawURL))
	}
	host := parsed.Hostname()

	var matchedDisabled bool
	for _, b := range d.bindings {
		for _, p := range b.patterns {
			if !p.matches(host) {
				continue
			}
			if !b.Enabled {
				matchedDisabled = true
				continue
			}
			return b.ProviderBinding, nil
		}
	}
	if matchedDisabled {
		return domain.ProviderBinding{}, domain.NewError(domain.ErrComponentUnavailable, "provider for this url is disabled")
	}
	return domain.ProviderBinding{}, domain.NewError(domain.ErrInvalidURL, fmt.Sprintf("no provider matches host %q", host))
}

// Enabled lists the names of currently enabled providers, in registration
// order.
func (d *Dispatcher) Enabled() []string {
	var names []string
	for _, b := range d.bindings {
		if b.Enabled {
			names = append(names, b.Name)
		}
	}
	return names
}

// Disabled lists the names of currently disabled providers, in registration
// order.
func (d *Dispatcher) Disabled() []string {
	var names []string
	for _, b := range d.bindings {
		if !b.Enabled {
			names = append(names, b.Name)
		}
	}
	return names
}
