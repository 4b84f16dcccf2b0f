package extractor

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/clipvault/extractor-api/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestResolveHLSQualityBackfillsMatchingManifestOnly(t *testing.T) {
	t.Parallel()

	const manifest = `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=2500000,RESOLUTION=1280x720
stream_720.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=640x360
stream_360.m3u8
`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(manifest))
	}))
	defer srv.Close()

	formats := []domain.Format{
		{FormatID: "hls-a", IsHLS: true, ManifestURL: srv.URL},
		{FormatID: "hls-b", IsHLS: true, ManifestURL: "https://other.example/master.m3u8"},
		{FormatID: "progressive", IsHLS: false},
	}

	resolveHLSQuality(srv.Client(), srv.URL, formats)

	require.NotNil(t, formats[0].ResolutionHeight)
	require.Equal(t, 720, *formats[0].ResolutionHeight)
	require.NotNil(t, formats[0].VBR)
	require.Nil(t, formats[1].ResolutionHeight, "format referencing a different manifest must be untouched")
	require.Nil(t, formats[2].ResolutionHeight)
}

func TestResolveHLSQualitySkipsFormatsWithKnownResolution(t *testing.T) {
	t.Parallel()

	const manifest = `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=2500000,RESOLUTION=1280x720
stream_720.m3u8
`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(manifest))
	}))
	defer srv.Close()

	known := 1080
	formats := []domain.Format{
		{FormatID: "hls-known", IsHLS: true, ManifestURL: srv.URL, ResolutionHeight: &known},
	}

	resolveHLSQuality(srv.Client(), srv.URL, formats)

	require.Equal(t, 1080, *formats[0].ResolutionHeight, "existing resolution must not be overwritten")
}
