package cookie

import (
	"context"

	"github.com/clipvault/extractor-api/internal/domain"
)

// ExtractorProber implements Prober via a metadata-only call through the
// RetryExecutor/Extractor stack, against a known stable probe URL per
// provider.
type ExtractorProber struct {
	retrier   domain.RetryExecutor
	providers map[string]domain.ProviderBinding
	probeURLs map[string]string
}

// NewExtractorProber builds a Prober. probeURLs maps provider name to a
// known-stable URL used purely to exercise the credential.
func NewExtractorProber(retrier domain.RetryExecutor, providers map[string]domain.ProviderBinding, probeURLs map[string]string) *ExtractorProber {
	return &ExtractorProber{retrier: retrier, providers: providers, probeURLs: probeURLs}
}

// Probe runs a metadata-only extractor call for provider using cookiePath
// through the RetryExecutor, so retriable failures are retried, returning
// an error if the credential fails to authenticate.
func (p *ExtractorProber) Probe(ctx context.Context, provider string, cookiePath string) error {
	url, ok := p.probeURLs[provider]
	if !ok {
		return domain.NewError(domain.ErrMissingCookie, "no probe url configured for provider "+provider)
	}
	binding := p.providers[provider]

	_, err := p.retrier.Do(ctx, binding, domain.ExtractorRequest{
		URL:        url,
		CookiePath: cookiePath,
		InfoOnly:   true,
	}, nil)
	return err
}
