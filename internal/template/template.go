// Package template implements the TemplateRenderer (C2): parses an output
// filename template into a ValidatedTemplate and materializes it against a
// VideoMetadata record, rejecting path traversal and resolving filename
// collisions.
package template

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/clipvault/extractor-api/internal/domain"
)

// placeholderWhitelist is the closed set of variable names a template may
// reference.
var placeholderWhitelist = map[string]struct{}{
	"title": {}, "id": {}, "ext": {}, "upload_date": {},
	"uploader": {}, "resolution": {}, "format_id": {},
}

// placeholderPattern matches the extractor's "%(name)s" placeholder syntax.
var placeholderPattern = regexp.MustCompile(`%\(([a-zA-Z0-9_]*)\)s`)

// unsafeCharPattern matches characters illegal in filenames across common
// filesystems plus ASCII control characters.
var unsafeCharPattern = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)

const (
	maxValueCodepoints = 200
	maxCollisionTries  = 1000
)

// Renderer implements domain.TemplateRenderer.
type Renderer struct{}

// New builds a Renderer.
func New() *Renderer {
	return &Renderer{}
}

var _ domain.TemplateRenderer = (*Renderer)(nil)

// Parse validates raw and returns its segmented, immutable form. Rejects
// ".." segments, absolute-path indicators, path separators embedded inside a
// placeholder, and placeholders outside the whitelist.
func (r *Renderer) Parse(raw string) (domain.ValidatedTemplate, error) {
	if raw == "" {
		return domain.ValidatedTemplate{}, domain.NewError(domain.ErrInvalidFormat, "output template must not be empty")
	}
	if filepath.IsAbs(raw) || strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "\\") {
		return domain.ValidatedTemplate{}, domain.NewError(domain.ErrInvalidFormat, "output template must not be an absolute path")
	}
	for _, segment := range strings.FieldsFunc(raw, func(r rune) bool { return r == '/' || r == '\\' }) {
		if segment == ".." {
			return domain.ValidatedTemplate{}, domain.NewError(domain.ErrInvalidFormat, "output template must not contain \"..\" segments")
		}
	}

	var segments []domain.TemplateSegment
	rest := raw
	for {
		loc := placeholderPattern.FindStringSubmatchIndex(rest)
		if loc == nil {
			if rest != "" {
				segments = append(segments, domain.TemplateSegment{Literal: rest})
			}
			break
		}
		if loc[0] > 0 {
			segments = append(segments, domain.TemplateSegment{Literal: rest[:loc[0]]})
		}
		name := rest[loc[2]:loc[3]]
		if strings.ContainsAny(name, "/\\") {
			return domain.ValidatedTemplate{}, domain.NewError(domain.ErrInvalidFormat, "template placeholder must not contain path separators")
		}
		if _, ok := placeholderWhitelist[name]; !ok {
			return domain.ValidatedTemplate{}, domain.NewError(domain.ErrInvalidFormat, fmt.Sprintf("unknown template placeholder: %s", name))
		}
		segments = append(segments, domain.TemplateSegment{Placeholder: name})
		rest = rest[loc[1]:]
	}

	return domain.ValidatedTemplate{Segments: segments, Raw: raw}, nil
}

// Render materializes tmpl against meta, resolving the result against
// outputDir and guaranteeing the result is a strict descendant of it.
// Collisions with an existing file on disk are resolved by appending
// "_1", "_2", ... up to 1000 attempts.
func (r *Renderer) Render(tmpl domain.ValidatedTemplate, meta domain.VideoMetadata, outputDir string) (string, error) {
	values := fieldValues(meta)

	var b strings.Builder
	for _, seg := range tmpl.Segments {
		if seg.Placeholder == "" {
			b.WriteString(seg.Literal)
			continue
		}
		b.WriteString(sanitizeValue(values[seg.Placeholder]))
	}
	base := b.String()

	candidate := filepath.Join(outputDir, base)
	resolved, err := resolveCollision(candidate)
	if err != nil {
		return "", err
	}

	absOut, err := filepath.Abs(outputDir)
	if err != nil {
		return "", domain.Wrap(domain.ErrDownloadFailed, "resolve output directory", err)
	}
	absResolved, err := filepath.Abs(resolved)
	if err != nil {
		return "", domain.Wrap(domain.ErrDownloadFailed, "resolve output path", err)
	}
	rel, err := filepath.Rel(absOut, absResolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", domain.NewError(domain.ErrInvalidFormat, "rendered path escapes output directory")
	}

	return absResolved, nil
}

func resolveCollision(candidate string) (string, error) {
	if _, err := os.Stat(candidate); os.IsNotExist(err) {
		return candidate, nil
	}
	ext := filepath.Ext(candidate)
	stem := strings.TrimSuffix(candidate, ext)
	for i := 1; i <= maxCollisionTries; i++ {
		next := stem + "_" + strconv.Itoa(i) + ext
		if _, err := os.Stat(next); os.IsNotExist(err) {
			return next, nil
		}
	}
	return "", domain.NewError(domain.ErrDownloadFailed, "could not resolve filename collision after 1000 attempts")
}

// sanitizeValue truncates v to 200 Unicode code points and replaces every
// unsafe filesystem character with "_".
func sanitizeValue(v string) string {
	if utf8.RuneCountInString(v) > maxValueCodepoints {
		runes := []rune(v)
		v = string(runes[:maxValueCodepoints])
	}
	return unsafeCharPattern.ReplaceAllString(v, "_")
}

func fieldValues(meta domain.VideoMetadata) map[string]string {
	resolution := ""
	if best := bestResolution(meta.Formats); best != nil {
		resolution = fmt.Sprintf("%dp", *best)
	}
	formatID := ""
	if len(meta.Formats) > 0 {
		formatID = meta.Formats[0].FormatID
	}
	return map[string]string{
		"title":       meta.Title,
		"id":          meta.ID,
		"ext":         extOf(meta),
		"upload_date": meta.UploadDate,
		"uploader":    meta.Uploader,
		"resolution":  resolution,
		"format_id":   formatID,
	}
}

func extOf(meta domain.VideoMetadata) string {
	if len(meta.Formats) > 0 {
		return meta.Formats[0].Ext
	}
	return ""
}

func bestResolution(formats []domain.Format) *int {
	var best *int
	for _, f := range formats {
		if f.ResolutionHeight == nil {
			continue
		}
		if best == nil || *f.ResolutionHeight > *best {
			h := *f.ResolutionHeight
			best = &h
		}
	}
	return best
}
