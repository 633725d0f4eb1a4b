// Package config loads and validates dashboard configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default dataset locations published on data.gouv.fr.
const (
	DefaultZonesURL   = "https://www.data.gouv.fr/fr/datasets/r/bfba7898-aed3-40ec-aa74-abb73b92a363"
	DefaultArchiveURL = "https://www.data.gouv.fr/fr/datasets/r/f425cfa6-ccd1-438e-bb03-9d90ab527851"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Sources  SourcesConfig  `mapstructure:"sources"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Refresh  RefreshConfig  `mapstructure:"refresh"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Storage  StorageConfig  `mapstructure:"storage"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int   `mapstructure:"port"`
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes"`
	// PostsPerMinute throttles refresh and upload per client; 0 disables it.
	PostsPerMinute int   `mapstructure:"posts_per_minute"`
	PostBurst      int   `mapstructure:"post_burst"`
}

// AuthConfig defines API authentication toggles for mutating endpoints.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// SourcesConfig locates the remote datasets and the static reference layers.
type SourcesConfig struct {
	ZonesURL        string `mapstructure:"zones_url"`
	ArchiveURL      string `mapstructure:"archive_url"`
	ItineraryPath   string `mapstructure:"itinerary_path"`
	DepartmentsPath string `mapstructure:"departments_path"`
}

// HTTPConfig configures dataset downloads.
type HTTPConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
	MaxBodyBytes   int    `mapstructure:"max_body_bytes"`
	RespectRobots  bool   `mapstructure:"respect_robots"`
	MaxAttempts    int    `mapstructure:"max_attempts"`
	RetryBaseMS    int    `mapstructure:"retry_base_ms"`
}

// CacheConfig sizes the memoization cache.
type CacheConfig struct {
	Size       int `mapstructure:"size"`
	TTLSeconds int `mapstructure:"ttl_seconds"`
}

// RefreshConfig sets the optional periodic refresh. Zero disables it.
type RefreshConfig struct {
	IntervalMinutes int `mapstructure:"interval_minutes"`
}

// HeadlessConfig configures the PNG export.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	Width         int  `mapstructure:"width"`
	Height        int  `mapstructure:"height"`
	SettleMillis  int  `mapstructure:"settle_ms"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
}

// StorageConfig selects where raw datasets and exports are archived.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to the indicator history database.
type DBConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// PubSubConfig holds metadata for snapshot notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features and file output.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	File        string `mapstructure:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
}

// TracingConfig controls OpenTelemetry spans; ProjectID exports them to
// Cloud Trace.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ProjectID   string  `mapstructure:"project_id"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SECHERESSE")
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

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.max_upload_bytes", 64<<20)
	v.SetDefault("server.posts_per_minute", 12)
	v.SetDefault("server.post_burst", 4)
	v.SetDefault("sources.zones_url", DefaultZonesURL)
	v.SetDefault("sources.archive_url", DefaultArchiveURL)
	v.SetDefault("sources.itinerary_path", "donnees/Export_Itineraire_COP.gpkg")
	v.SetDefault("sources.departments_path", "donnees/departements_itineraires.gpkg")
	v.SetDefault("http.timeout_seconds", 60)
	v.SetDefault("http.user_agent", "secheresse-dashboard/0.1")
	v.SetDefault("http.max_body_bytes", 256<<20)
	v.SetDefault("http.respect_robots", false)
	v.SetDefault("http.max_attempts", 3)
	v.SetDefault("http.retry_base_ms", 500)
	v.SetDefault("cache.size", 16)
	v.SetDefault("cache.ttl_seconds", 3600)
	v.SetDefault("refresh.interval_minutes", 0)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.width", 1280)
	v.SetDefault("headless.height", 900)
	v.SetDefault("headless.settle_ms", 1500)
	v.SetDefault("headless.nav_timeout_seconds", 30)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.base_dir", "data")
	v.SetDefault("storage.prefix", "secheresse")
	v.SetDefault("db.table", "indicator_snapshots")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Sources.ZonesURL == "" {
		return fmt.Errorf("sources.zones_url must be set")
	}
	if c.Sources.ArchiveURL == "" {
		return fmt.Errorf("sources.archive_url must be set")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxAttempts < 1 {
		return fmt.Errorf("http.max_attempts must be >= 1")
	}
	if c.Cache.Size <= 0 {
		return fmt.Errorf("cache.size must be > 0")
	}
	if c.Refresh.IntervalMinutes < 0 {
		return fmt.Errorf("refresh.interval_minutes must be >= 0")
	}
	if c.Headless.Enabled && (c.Headless.Width <= 0 || c.Headless.Height <= 0) {
		return fmt.Errorf("headless.width and headless.height must be > 0 when headless is enabled")
	}
	switch c.Storage.Backend {
	case "memory":
	case "local":
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir must be set for the local backend")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not one of memory, local, gcs", c.Storage.Backend)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// Timeout converts the HTTP timeout into a duration.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// CacheTTL is the memoization lifetime.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// RefreshInterval is the periodic refresh delay, zero when disabled.
func (c Config) RefreshInterval() time.Duration {
	return time.Duration(c.Refresh.IntervalMinutes) * time.Minute
}

// SettleTime is how long the headless browser waits for tiles to load.
func (c Config) SettleTime() time.Duration {
	return time.Duration(c.Headless.SettleMillis) * time.Millisecond
}

// NavigationTimeout bounds one headless page load.
func (c Config) NavigationTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSec) * time.Second
}
