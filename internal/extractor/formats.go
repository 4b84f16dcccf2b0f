package extractor

import (
	"io"
	"net/http"
	"sort"

	"github.com/clipvault/extractor-api/internal/domain"
	"github.com/grafov/m3u8"
)

// sortFormats orders formats by quality descending, per the stable tuple
// (formatRank, resolutionHeight, bitrate, formatID): combined (video+audio)
// formats sort above video-only formats, which sort above audio-only ones,
// regardless of resolution; within a rank, higher resolution, then higher
// bitrate, comes first.
func sortFormats(formats []domain.Format) {
	sort.SliceStable(formats, func(i, j int) bool {
		a, b := formats[i], formats[j]
		if ra, rb := formatRank(a), formatRank(b); ra != rb {
			return ra > rb
		}
		ah, bh := heightOf(a), heightOf(b)
		if ah != bh {
			return ah > bh
		}
		ab, bb := bitrateOf(a), bitrateOf(b)
		if ab != bb {
			return ab > bb
		}
		return a.FormatID > b.FormatID
	})
}

// formatRank is 2 for combined formats, 1 for video-only and 0 otherwise.
func formatRank(f domain.Format) int {
	switch {
	case hasVideo(f) && hasAudio(f):
		return 2
	case hasVideo(f):
		return 1
	}
	return 0
}

func hasVideo(f domain.Format) bool {
	return f.VCodec != "" && f.VCodec != "none"
}

func hasAudio(f domain.Format) bool {
	return f.ACodec != "" && f.ACodec != "none"
}

func heightOf(f domain.Format) int {
	if f.ResolutionHeight == nil {
		return 0
	}
	return *f.ResolutionHeight
}

func bitrateOf(f domain.Format) float64 {
	var total float64
	if f.VBR != nil {
		total += *f.VBR
	}
	if f.ABR != nil {
		total += *f.ABR
	}
	return total
}

// resolveHLSQuality fetches an HLS master manifest and fills in
// resolution/bitrate for formats whose own JSON metadata omitted it, a gap
// the extractor sometimes leaves for live/DASH-ish HLS variants.
func resolveHLSQuality(client *http.Client, manifestURL string, formats []domain.Format) {
	resp, err := client.Get(manifestURL)
	if err != nil {
		return
	}
	defer resp.Body.Close()

	playlist, listType, err := m3u8.DecodeFrom(io.LimitReader(resp.Body, 8<<20), true)
	if err != nil || listType != m3u8.MASTER {
		return
	}
	master, ok := playlist.(*m3u8.MasterPlaylist)
	if !ok {
		return
	}

	variantByBandwidth := make(map[uint32]*m3u8.Variant, len(master.Variants))
	for _, v := range master.Variants {
		variantByBandwidth[v.Bandwidth] = v
	}

	for i := range formats {
		if !formats[i].IsHLS || formats[i].ResolutionHeight != nil || formats[i].ManifestURL != manifestURL {
			continue
		}
		for _, v := range master.Variants {
			if v.Resolution == "" {
				continue
			}
			height := parseResolutionHeight(v.Resolution)
			if height == 0 {
				continue
			}
			h := height
			formats[i].ResolutionHeight = &h
			vbr := float64(v.Bandwidth) / 1000
			formats[i].VBR = &vbr
			break
		}
	}
}

func parseResolutionHeight(resolution string) int {
	for i := len(resolution) - 1; i >= 0; i-- {
		if resolution[i] == 'x' {
			height := 0
			for _, c := range resolution[i+1:] {
				if c < '0' || c > '9' {
					return height
				}
				height = height*10 + int(c-'0')
			}
			return height
		}
	}
	return 0
}
