package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  degraded_mode: false
timeouts:
  metadata_seconds: 15
  download_seconds: 120
storage:
  output_dir: /data/downloads
  cleanup_threshold: 70
  cleanup_age_hours: 12
downloads:
  queue_capacity: 200
  worker_count: 8
  job_ttl_hours: 6
rate_limiting:
  metadata_rpm: 50
  download_rpm: 5
  burst_capacity: 10
security:
  header_name: X-API-Key
  api_keys: ["secret"]
providers:
  - name: youtube
    url_patterns: ["youtube.com", "youtu.be"]
    cookie_path: /cookies/youtube.txt
    max_attempts: 4
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Downloads.QueueCapacity != 200 || cfg.Downloads.WorkerCount != 8 {
		t.Fatalf("expected downloads overrides to apply, got %+v", cfg.Downloads)
	}
	if len(cfg.Providers) != 1 || cfg.Providers[0].Name != "youtube" {
		t.Fatalf("expected one youtube provider, got %+v", cfg.Providers)
	}
	if got := cfg.JobTTL(); got != 6*time.Hour {
		t.Fatalf("expected job ttl 6h, got %v", got)
	}
	if got := cfg.CleanupAge(); got != 12*time.Hour {
		t.Fatalf("expected cleanup age 12h, got %v", got)
	}
}

func TestBackoffScheduleDefaultsWhenUnset(t *testing.T) {
	t.Parallel()

	p := ProviderConfig{Name: "youtube"}
	got := p.BackoffSchedule()
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:    ServerConfig{Port: 8080},
		Timeouts:  TimeoutsConfig{MetadataSeconds: 10, DownloadSeconds: 300},
		Storage:   StorageConfig{CleanupThreshold: 80},
		Downloads: DownloadsConfig{QueueCapacity: 100, WorkerCount: 5},
		Security:  SecurityConfig{APIKeys: []string{"secret"}},
		Providers: []ProviderConfig{{Name: "youtube"}},
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.Port = 0
				return c
			}(),
			want: "server.port",
		},
		{
			name: "invalid cleanup threshold",
			cfg: func() Config {
				c := base
				c.Storage.CleanupThreshold = 150
				return c
			}(),
			want: "storage.cleanup_threshold",
		},
		{
			name: "invalid queue capacity",
			cfg: func() Config {
				c := base
				c.Downloads.QueueCapacity = 0
				return c
			}(),
			want: "downloads.queue_capacity",
		},
		{
			name: "invalid worker count",
			cfg: func() Config {
				c := base
				c.Downloads.WorkerCount = 0
				return c
			}(),
			want: "downloads.worker_count",
		},
		{
			name: "invalid metadata timeout",
			cfg: func() Config {
				c := base
				c.Timeouts.MetadataSeconds = 0
				return c
			}(),
			want: "timeouts.metadata_seconds",
		},
		{
			name: "missing api keys without degraded mode",
			cfg: func() Config {
				c := base
				c.Security.APIKeys = nil
				return c
			}(),
			want: "security.api_keys",
		},
		{
			name: "no providers configured",
			cfg: func() Config {
				c := base
				c.Providers = nil
				return c
			}(),
			want: "provider",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestDegradedModeAllowsEmptyAPIKeys(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Server:    ServerConfig{Port: 8080, DegradedMode: true},
		Timeouts:  TimeoutsConfig{MetadataSeconds: 10, DownloadSeconds: 300},
		Storage:   StorageConfig{CleanupThreshold: 80},
		Downloads: DownloadsConfig{QueueCapacity: 100, WorkerCount: 5},
		Providers: []ProviderConfig{{Name: "youtube"}},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected degraded mode to tolerate empty api keys, got %v", err)
	}
}
