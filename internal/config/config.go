// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper, one
// struct per section as the top-level file groups them.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Timeouts     TimeoutsConfig     `mapstructure:"timeouts"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Downloads    DownloadsConfig    `mapstructure:"downloads"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
	Templates    TemplatesConfig    `mapstructure:"templates"`
	Providers    []ProviderConfig   `mapstructure:"providers"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Security     SecurityConfig     `mapstructure:"security"`
	Monitoring   MonitoringConfig   `mapstructure:"monitoring"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port               int    `mapstructure:"port"`
	ExtractorBin       string `mapstructure:"extractor_bin"`
	MediaToolBin       string `mapstructure:"media_tool_bin"`
	ScriptRuntime      string `mapstructure:"script_runtime_bin"`
	DegradedMode       bool   `mapstructure:"degraded_mode"`
	MinScriptingMajor  int    `mapstructure:"min_scripting_major"`
	ConnectivityHost   string `mapstructure:"connectivity_host"`
}

// TimeoutsConfig carries the per-operation budgets named in §5.
type TimeoutsConfig struct {
	MetadataSeconds    int `mapstructure:"metadata_seconds"`
	DownloadSeconds    int `mapstructure:"download_seconds"`
	AudioConvertSecond int `mapstructure:"audio_convert_seconds"`
	ShutdownGraceSecs  int `mapstructure:"shutdown_grace_seconds"`
}

// StorageConfig governs the output directory and reaper thresholds.
type StorageConfig struct {
	OutputDir        string `mapstructure:"output_dir"`
	CleanupThreshold int    `mapstructure:"cleanup_threshold"`
	CleanupAgeHours  int    `mapstructure:"cleanup_age_hours"`
	ReapIntervalMins int    `mapstructure:"reap_interval_minutes"`
	MinFreeBytes     int64  `mapstructure:"min_free_bytes"`
	AuditLogPath     string `mapstructure:"audit_log_path"`
}

// DownloadsConfig controls the Scheduler's sizing.
type DownloadsConfig struct {
	QueueCapacity int `mapstructure:"queue_capacity"`
	WorkerCount   int `mapstructure:"worker_count"`
	JobTTLHours   int `mapstructure:"job_ttl_hours"`
}

// RateLimitingConfig sets the default token-bucket parameters per category.
type RateLimitingConfig struct {
	MetadataRPM    int `mapstructure:"metadata_rpm"`
	DownloadRPM    int `mapstructure:"download_rpm"`
	BurstCapacity  int `mapstructure:"burst_capacity"`
}

// TemplatesConfig names the default output filename template.
type TemplatesConfig struct {
	Default string `mapstructure:"default"`
}

// ProviderConfig is one entry of the providers config list.
type ProviderConfig struct {
	Name            string   `mapstructure:"name"`
	URLPatterns     []string `mapstructure:"url_patterns"`
	CookiePath      string   `mapstructure:"cookie_path"`
	MaxAttempts     int      `mapstructure:"max_attempts"`
	BackoffSeconds  []int    `mapstructure:"backoff_seconds"`
	ProbeURL        string   `mapstructure:"probe_url"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// SecurityConfig names the accepted API keys and the header they travel in.
type SecurityConfig struct {
	HeaderName string   `mapstructure:"header_name"`
	APIKeys    []string `mapstructure:"api_keys"`
}

// MonitoringConfig controls the Prometheus exposition surface.
type MonitoringConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Load builds a Config from disk/environment. A ".toml" extension on path
// is parsed with BurntSushi/toml instead of viper's default decoder.
func Load(path string) (Config, error) {
	if path != "" && strings.EqualFold(filepath.Ext(path), ".toml") {
		return loadTOML(path)
	}

	v := viper.New()
	v.SetEnvPrefix("EXTRACTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadTOML(path string) (Config, error) {
	var cfg Config
	applyDefaultValues(&cfg)
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("read toml config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.extractor_bin", "yt-dlp")
	v.SetDefault("server.media_tool_bin", "ffmpeg")
	v.SetDefault("server.script_runtime_bin", "node")
	v.SetDefault("server.degraded_mode", false)
	v.SetDefault("server.min_scripting_major", 20)
	v.SetDefault("server.connectivity_host", "")

	v.SetDefault("timeouts.metadata_seconds", 10)
	v.SetDefault("timeouts.download_seconds", 300)
	v.SetDefault("timeouts.audio_convert_seconds", 60)
	v.SetDefault("timeouts.shutdown_grace_seconds", 30)

	v.SetDefault("storage.output_dir", "./downloads")
	v.SetDefault("storage.cleanup_threshold", 80)
	v.SetDefault("storage.cleanup_age_hours", 24)
	v.SetDefault("storage.reap_interval_minutes", 60)
	v.SetDefault("storage.min_free_bytes", 1<<30)
	v.SetDefault("storage.audit_log_path", "./downloads/audit.db")

	v.SetDefault("downloads.queue_capacity", 100)
	v.SetDefault("downloads.worker_count", 5)
	v.SetDefault("downloads.job_ttl_hours", 24)

	v.SetDefault("rate_limiting.metadata_rpm", 100)
	v.SetDefault("rate_limiting.download_rpm", 10)
	v.SetDefault("rate_limiting.burst_capacity", 20)

	v.SetDefault("templates.default", "%(title)s-%(id)s.%(ext)s")

	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")

	v.SetDefault("security.header_name", "X-API-Key")

	v.SetDefault("monitoring.enabled", true)
}

// applyDefaultValues mirrors setDefaults for the TOML load path, which
// does not go through viper.
func applyDefaultValues(cfg *Config) {
	cfg.Server = ServerConfig{Port: 8080, ExtractorBin: "yt-dlp", MediaToolBin: "ffmpeg", ScriptRuntime: "node", MinScriptingMajor: 20}
	cfg.Timeouts = TimeoutsConfig{MetadataSeconds: 10, DownloadSeconds: 300, AudioConvertSecond: 60, ShutdownGraceSecs: 30}
	cfg.Storage = StorageConfig{OutputDir: "./downloads", CleanupThreshold: 80, CleanupAgeHours: 24, ReapIntervalMins: 60, MinFreeBytes: 1 << 30, AuditLogPath: "./downloads/audit.db"}
	cfg.Downloads = DownloadsConfig{QueueCapacity: 100, WorkerCount: 5, JobTTLHours: 24}
	cfg.RateLimiting = RateLimitingConfig{MetadataRPM: 100, DownloadRPM: 10, BurstCapacity: 20}
	cfg.Templates = TemplatesConfig{Default: "%(title)s-%(id)s.%(ext)s"}
	cfg.Logging = LoggingConfig{Level: "info"}
	cfg.Security = SecurityConfig{HeaderName: "X-API-Key"}
	cfg.Monitoring = MonitoringConfig{Enabled: true}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Storage.CleanupThreshold < 0 || c.Storage.CleanupThreshold > 100 {
		return fmt.Errorf("storage.cleanup_threshold must be in [0,100]")
	}
	if c.Downloads.QueueCapacity <= 0 {
		return fmt.Errorf("downloads.queue_capacity must be > 0")
	}
	if c.Downloads.WorkerCount <= 0 {
		return fmt.Errorf("downloads.worker_count must be > 0")
	}
	if c.Timeouts.MetadataSeconds <= 0 {
		return fmt.Errorf("timeouts.metadata_seconds must be > 0")
	}
	if c.Timeouts.DownloadSeconds <= 0 {
		return fmt.Errorf("timeouts.download_seconds must be > 0")
	}
	if !c.Server.DegradedMode && len(c.Security.APIKeys) == 0 {
		return fmt.Errorf("security.api_keys must be set unless server.degraded_mode is enabled")
	}
	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider must be configured")
	}
	return nil
}

// CleanupAge converts the storage section's hours into a duration.
func (c Config) CleanupAge() time.Duration {
	return time.Duration(c.Storage.CleanupAgeHours) * time.Hour
}

// JobTTL converts the downloads section's hours into a duration.
func (c Config) JobTTL() time.Duration {
	return time.Duration(c.Downloads.JobTTLHours) * time.Hour
}

// BackoffSchedule converts a provider's configured integer seconds into
// time.Duration values, falling back to the spec default {2,4,8}.
func (p ProviderConfig) BackoffSchedule() []time.Duration {
	if len(p.BackoffSeconds) == 0 {
		return []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	}
	out := make([]time.Duration, len(p.BackoffSeconds))
	for i, s := range p.BackoffSeconds {
		out[i] = time.Duration(s) * time.Second
	}
	return out
}
