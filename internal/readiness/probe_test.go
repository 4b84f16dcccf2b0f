package readiness

import (
	"context"
	"testing"
	"time"

	"github.com/clipvault/extractor-api/internal/domain"
	"github.com/stretchr/testify/require"
)

type fakeCookieStore struct {
	records []domain.CookieRecord
}

func (f *fakeCookieStore) Load(context.Context, string, string) error { return nil }
func (f *fakeCookieStore) Validate(context.Context, string) (domain.CookieValidation, error) {
	return domain.CookieValid, nil
}
func (f *fakeCookieStore) Reload(context.Context, string, string) error { return nil }
func (f *fakeCookieStore) Age(string) (time.Duration, error)            { return 0, nil }
func (f *fakeCookieStore) Snapshot() []domain.CookieRecord              { return f.records }

type fakeDispatcher struct{ disabled []string }

func (d *fakeDispatcher) Dispatch(string) (domain.ProviderBinding, error) {
	return domain.ProviderBinding{}, nil
}
func (d *fakeDispatcher) Enabled() []string  { return nil }
func (d *fakeDispatcher) Disabled() []string { return d.disabled }

type fixedDisk struct {
	free int64
	err  error
}

func (f fixedDisk) FreeBytes(string) (int64, error) { return f.free, f.err }

func TestCheckReportsUnhealthyWhenBinaryMissing(t *testing.T) {
	t.Parallel()

	p := New(Config{
		ExtractorBinary: BinaryCheck{Name: "extractor"},
		OutputDir:       "/tmp",
		MinFreeBytes:    0,
	}, nil, nil, fixedDisk{free: 1 << 30})

	healthy, statuses := p.Check(context.Background())
	require.False(t, healthy)
	found := false
	for _, s := range statuses {
		if s.Name == "extractor_binary" {
			found = true
			require.False(t, s.Healthy)
		}
	}
	require.True(t, found)
}

func TestCheckReportsDiskBelowMinimum(t *testing.T) {
	t.Parallel()

	p := New(Config{OutputDir: "/tmp", MinFreeBytes: 1 << 20}, nil, nil, fixedDisk{free: 100})

	_, statuses := p.Check(context.Background())
	for _, s := range statuses {
		if s.Name == "output_directory_free_space" {
			require.False(t, s.Healthy)
			return
		}
	}
	t.Fatal("expected disk space status")
}

func TestCheckAggregatesCookieRecords(t *testing.T) {
	t.Parallel()

	cookies := &fakeCookieStore{records: []domain.CookieRecord{
		{Provider: "youtube", ValidationResult: domain.CookieValid},
		{Provider: "vimeo", ValidationResult: domain.CookieInvalid},
	}}
	p := New(Config{OutputDir: "/tmp"}, cookies, &fakeDispatcher{}, fixedDisk{free: 1 << 30})

	healthy, statuses := p.Check(context.Background())
	require.False(t, healthy, "an invalid cookie must fail overall readiness")

	var sawInvalid bool
	for _, s := range statuses {
		if s.Name == "cookie:vimeo" {
			sawInvalid = true
			require.False(t, s.Healthy)
		}
	}
	require.True(t, sawInvalid)
}

func TestCheckReportsDisabledProviders(t *testing.T) {
	t.Parallel()

	p := New(Config{OutputDir: "/tmp"}, &fakeCookieStore{}, &fakeDispatcher{disabled: []string{"vimeo"}}, fixedDisk{free: 1 << 30})

	_, statuses := p.Check(context.Background())
	found := false
	for _, s := range statuses {
		if s.Name == "provider:vimeo" {
			found = true
			require.False(t, s.Healthy)
		}
	}
	require.True(t, found)
}
