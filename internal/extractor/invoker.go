// Package extractor implements the ExtractorInvoker (C7): argument vector
// construction, subprocess execution, and parsing of the extractor's stdout
// into VideoMetadata or a produced file path.
package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/clipvault/extractor-api/internal/domain"
	"github.com/clipvault/extractor-api/internal/redact"
	"go.uber.org/zap"
)

// BinaryPaths names the external binaries the invoker shells out to.
type BinaryPaths struct {
	Extractor      string // e.g. "yt-dlp"
	ScriptingRuntime string // e.g. "node", required by some challenge-resolution codepaths
}

// Invoker implements domain.Extractor by shelling out to the configured
// extractor binary. Arguments are always built as a vector, never a shell
// string, to preclude injection.
type Invoker struct {
	binaries   BinaryPaths
	redactor   *redact.Redactor
	logger     *zap.Logger
	httpClient *http.Client
}

// New builds an Invoker.
func New(binaries BinaryPaths, redactor *redact.Redactor, logger *zap.Logger) *Invoker {
	return &Invoker{
		binaries:   binaries,
		redactor:   redactor,
		logger:     logger.Named("extractor"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

var _ domain.Extractor = (*Invoker)(nil)

// destinationLinePattern matches the extractor's explicit "destination"
// announcement line.
var destinationLinePattern = regexp.MustCompile(`^\[(?:download|Merger)\]\s+(?:Destination:\s+|Merging formats into\s+")(.+?)"?$`)

// Run builds the argument vector for req, launches the extractor with
// stdin closed, and parses its output on a zero exit code.
func (inv *Invoker) Run(ctx context.Context, req domain.ExtractorRequest) (domain.ExtractorResult, error) {
	argv := buildArgv(inv.binaries, req)

	inv.logger.Debug("invoking extractor", zap.Strings("argv", inv.redactor.RedactArgv(argv)))

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = nil

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	stderrTail := trimTail(stderr.String(), 500)
	inv.logger.Debug("extractor exited",
		zap.Int("exit_code", cmd.ProcessState.ExitCode()),
		zap.Int("stdout_lines", strings.Count(stdout.String(), "\n")),
		zap.String("stderr_tail", stderrTail))

	if err != nil {
		return domain.ExtractorResult{}, domain.Wrap(domain.ErrDownloadFailed,
			fmt.Sprintf("extractor exited with error: %s", stderrTail), err)
	}

	if req.InfoOnly {
		meta, parseErr := parseMetadata(stdout.Bytes())
		if parseErr != nil {
			return domain.ExtractorResult{}, domain.Wrap(domain.ErrVideoUnavailable, "parse extractor metadata", parseErr)
		}
		inv.backfillHLSQuality(meta.Formats)
		sortFormats(meta.Formats)
		return domain.ExtractorResult{Metadata: meta, Stdout: stdout.String(), StderrTail: stderrTail}, nil
	}

	filePath := parseDestination(stdout.String())
	if filePath == "" {
		return domain.ExtractorResult{}, domain.NewError(domain.ErrDownloadFailed, "could not determine output file from extractor output")
	}
	return domain.ExtractorResult{FilePath: filePath, Stdout: stdout.String(), StderrTail: stderrTail}, nil
}

// backfillHLSQuality fetches each distinct HLS master manifest referenced
// by formats and fills in resolution/bitrate for variants whose JSON
// metadata omitted it. Manifest fetch failures are non-fatal; formats keep
// whatever quality data the extractor already reported.
func (inv *Invoker) backfillHLSQuality(formats []domain.Format) {
	seen := make(map[string]bool)
	for i := range formats {
		if formats[i].IsHLS && formats[i].ManifestURL != "" && formats[i].ResolutionHeight == nil {
			seen[formats[i].ManifestURL] = true
		}
	}
	for manifestURL := range seen {
		resolveHLSQuality(inv.httpClient, manifestURL, formats)
	}
}

// buildArgv constructs the extractor's argument vector from validated
// inputs, the provider's credential path, and operation flags. The URL
// always comes last.
func buildArgv(binaries BinaryPaths, req domain.ExtractorRequest) []string {
	argv := []string{binaries.Extractor}

	if req.CookiePath != "" {
		argv = append(argv, "--cookies", req.CookiePath)
	}
	if binaries.ScriptingRuntime != "" {
		argv = append(argv, "--extractor-args", "youtube:player_client=default;jsi="+binaries.ScriptingRuntime)
	}

	if req.InfoOnly {
		argv = append(argv, "--dump-json", "--no-warnings")
	} else {
		if req.FormatID != "" {
			argv = append(argv, "--format", req.FormatID)
		}
		if req.OutputTemplate != "" {
			argv = append(argv, "--output", req.OutputTemplate)
		}
		if req.AudioOnly {
			argv = append(argv, "--extract-audio")
			if req.AudioFormat != "" {
				argv = append(argv, "--audio-format", req.AudioFormat)
			}
			if req.AudioQuality != 0 {
				argv = append(argv, "--audio-quality", strconv.Itoa(req.AudioQuality))
			}
		}
		if req.SubtitlesWanted {
			argv = append(argv, "--write-subs")
			if req.SubtitleLang != "" {
				argv = append(argv, "--sub-langs", req.SubtitleLang)
			}
		}
		argv = append(argv, "--print", "after_move:filepath")
	}

	argv = append(argv, req.URL)
	return argv
}

// rawVideoMetadata mirrors the loosely typed fields of the extractor's JSON
// info document that this system cares about; everything else is ignored.
type rawVideoMetadata struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Duration    *float64        `json:"duration"`
	Uploader    string          `json:"uploader"`
	ChannelID   *string         `json:"channel_id"`
	UploadDate  string          `json:"upload_date"`
	ViewCount   *int64          `json:"view_count"`
	LikeCount   *int64          `json:"like_count"`
	Thumbnail   string          `json:"thumbnail"`
	Description string          `json:"description"`
	IsLive      bool            `json:"is_live"`
	AgeLimit    *int            `json:"age_limit"`
	Formats     []rawFormat     `json:"formats"`
	Subtitles   json.RawMessage `json:"subtitles"`
}

type rawFormat struct {
	FormatID   string   `json:"format_id"`
	Ext        string   `json:"ext"`
	Height     *int     `json:"height"`
	VCodec     string   `json:"vcodec"`
	ACodec     string   `json:"acodec"`
	ABR        *float64 `json:"abr"`
	VBR        *float64 `json:"vbr"`
	Filesize   *int64   `json:"filesize"`
	Protocol   string   `json:"protocol"`
	ManifestURL string  `json:"manifest_url"`
}

func parseMetadata(stdout []byte) (*domain.VideoMetadata, error) {
	line := firstNonBlankLine(string(stdout))
	var raw rawVideoMetadata
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return nil, err
	}

	meta := &domain.VideoMetadata{
		ID:          raw.ID,
		Title:       raw.Title,
		Duration:    raw.Duration,
		Uploader:    raw.Uploader,
		ChannelID:   raw.ChannelID,
		UploadDate:  raw.UploadDate,
		ViewCount:   raw.ViewCount,
		LikeCount:   raw.LikeCount,
		Thumbnail:   raw.Thumbnail,
		Description: raw.Description,
		IsLive:      raw.IsLive,
		AgeLimit:    raw.AgeLimit,
	}
	for _, f := range raw.Formats {
		meta.Formats = append(meta.Formats, domain.Format{
			FormatID:         f.FormatID,
			Ext:              f.Ext,
			ResolutionHeight: f.Height,
			VCodec:           f.VCodec,
			ACodec:           f.ACodec,
			ABR:              f.ABR,
			VBR:              f.VBR,
			FilesizeBytes:    f.Filesize,
			IsHLS:            f.Protocol == "m3u8" || f.Protocol == "m3u8_native",
			ManifestURL:      f.ManifestURL,
		})
	}
	if len(raw.Subtitles) > 0 {
		var subs map[string][]struct {
			Ext  string `json:"ext"`
			Auto bool   `json:"auto"`
		}
		if err := json.Unmarshal(raw.Subtitles, &subs); err == nil {
			meta.Subtitles = make(map[string][]domain.Subtitle, len(subs))
			for lang, tracks := range subs {
				for _, tr := range tracks {
					meta.Subtitles[lang] = append(meta.Subtitles[lang], domain.Subtitle{Ext: tr.Ext, Auto: tr.Auto})
				}
			}
		}
	}
	return meta, nil
}

func parseDestination(stdout string) string {
	lines := strings.Split(stdout, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if m := destinationLinePattern.FindStringSubmatch(strings.TrimSpace(lines[i])); m != nil {
			return m[1]
		}
	}
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line != "" && !strings.HasPrefix(line, "[") {
			return line
		}
	}
	return ""
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

func trimTail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
