package template

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/clipvault/extractor-api/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestParseRejectsTraversal(t *testing.T) {
	t.Parallel()

	r := New()
	_, err := r.Parse("../etc/%(id)s.%(ext)s")
	require.Error(t, err)

	_, err = r.Parse("/etc/%(id)s.%(ext)s")
	require.Error(t, err)
}

func TestParseRejectsUnknownPlaceholder(t *testing.T) {
	t.Parallel()

	r := New()
	_, err := r.Parse("%(title)s-%(secret)s.%(ext)s")
	require.Error(t, err)
}

func TestParseAndRenderDefaultTemplate(t *testing.T) {
	t.Parallel()

	r := New()
	tmpl, err := r.Parse("%(title)s-%(id)s.%(ext)s")
	require.NoError(t, err)

	dir := t.TempDir()
	meta := domain.VideoMetadata{
		ID:      "dQw4w9WgXcQ",
		Title:   "Some Title",
		Formats: []domain.Format{{FormatID: "137+140", Ext: "mp4"}},
	}

	got, err := r.Render(tmpl, meta, dir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "Some Title-dQw4w9WgXcQ.mp4"), got)
}

func TestRenderSanitizesUnsafeCharacters(t *testing.T) {
	t.Parallel()

	r := New()
	tmpl, err := r.Parse("%(title)s.%(ext)s")
	require.NoError(t, err)

	dir := t.TempDir()
	meta := domain.VideoMetadata{Title: `a/b:c*d`, Formats: []domain.Format{{Ext: "mp4"}}}

	got, err := r.Render(tmpl, meta, dir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "a_b_c_d.mp4"), got)
}

func TestRenderTruncatesLongValues(t *testing.T) {
	t.Parallel()

	r := New()
	tmpl, err := r.Parse("%(title)s.%(ext)s")
	require.NoError(t, err)

	dir := t.TempDir()
	meta := domain.VideoMetadata{Title: strings.Repeat("a", 500), Formats: []domain.Format{{Ext: "mp4"}}}

	got, err := r.Render(tmpl, meta, dir)
	require.NoError(t, err)
	base := filepath.Base(got)
	require.LessOrEqual(t, len([]rune(strings.TrimSuffix(base, ".mp4"))), 200)
}

func TestRenderResolvesCollisions(t *testing.T) {
	t.Parallel()

	r := New()
	tmpl, err := r.Parse("%(id)s.%(ext)s")
	require.NoError(t, err)

	dir := t.TempDir()
	meta := domain.VideoMetadata{ID: "dup", Formats: []domain.Format{{Ext: "mp4"}}}

	require.NoError(t, os.WriteFile(filepath.Join(dir, "dup.mp4"), []byte("x"), 0o644))

	got, err := r.Render(tmpl, meta, dir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "dup_1.mp4"), got)
}
