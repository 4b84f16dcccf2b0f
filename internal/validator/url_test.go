package validator

import (
	"testing"

	"github.com/clipvault/extractor-api/internal/domain"
	"github.com/stretchr/testify/require"
)

type fakeDispatcher struct {
	enabled map[string]bool
}

func (f *fakeDispatcher) Dispatch(rawURL string) (domain.ProviderBinding, error) {
	for host, enabled := range f.enabled {
		if contains(rawURL, host) {
			if !enabled {
				return domain.ProviderBinding{}, domain.NewError(domain.ErrComponentUnavailable, "disabled")
			}
			return domain.ProviderBinding{Name: host}, nil
		}
	}
	return domain.ProviderBinding{}, domain.NewError(domain.ErrInvalidURL, "no match")
}

func (f *fakeDispatcher) Enabled() []string  { return nil }
func (f *fakeDispatcher) Disabled() []string { return nil }

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

func TestValidateURL(t *testing.T) {
	t.Parallel()

	v := New(&fakeDispatcher{enabled: map[string]bool{"youtube.com": true, "vimeo.com": false}})

	require.NoError(t, v.ValidateURL("https://www.youtube.com/watch?v=abc12345678"))
	require.NoError(t, v.ValidateURL("https://www.vimeo.com/12345"), "a disabled provider is still a syntactically valid url")
	require.Error(t, v.ValidateURL("not-a-url"))
	require.Error(t, v.ValidateURL("ftp://example.com/file"))
	require.Error(t, v.ValidateURL("https://unknown-host.example/video"))
}

func TestValidateFormatID(t *testing.T) {
	t.Parallel()

	v := New(&fakeDispatcher{})
	require.NoError(t, v.ValidateFormatID(""))
	require.NoError(t, v.ValidateFormatID("137+140"))
	require.Error(t, v.ValidateFormatID("137; rm -rf /"))
	require.Error(t, v.ValidateFormatID(""+string(make([]byte, 65))))
}

func TestValidateAudioFormatAndQuality(t *testing.T) {
	t.Parallel()

	v := New(&fakeDispatcher{})
	require.NoError(t, v.ValidateAudioFormat("mp3"))
	require.Error(t, v.ValidateAudioFormat("flac"))
	require.NoError(t, v.ValidateAudioQuality(192))
	require.Error(t, v.ValidateAudioQuality(256))
}

func TestValidateSubtitleLang(t *testing.T) {
	t.Parallel()

	v := New(&fakeDispatcher{})
	require.NoError(t, v.ValidateSubtitleLang(""))
	require.NoError(t, v.ValidateSubtitleLang("en"))
	require.NoError(t, v.ValidateSubtitleLang("pt-BR"))
	require.Error(t, v.ValidateSubtitleLang("../../etc"))
}
