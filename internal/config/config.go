// Package config loads and validates search service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/vlikcc/yargisalzekav2/internal/search"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Scrape    ScrapeConfig    `mapstructure:"scrape"`
	Limits    LimitsConfig    `mapstructure:"limits"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Probe     ProbeConfig     `mapstructure:"probe"`
	Publish   PublishConfig   `mapstructure:"publish"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
	ShutdownGraceSeconds  int `mapstructure:"shutdown_grace_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// ScrapeConfig governs portal navigation: where the portal lives, how its
// page is addressed, and how patient sessions are.
type ScrapeConfig struct {
	PortalURL                string  `mapstructure:"portal_url"`
	SearchInputLocator       string  `mapstructure:"search_input_locator"`
	SubmitLocator            string  `mapstructure:"submit_locator"`
	ResultRowsLocator        string  `mapstructure:"result_rows_locator"`
	DetailPaneLocator        string  `mapstructure:"detail_pane_locator"`
	NextPageLocator          string  `mapstructure:"next_page_locator"`
	TargetPerKeyword         int     `mapstructure:"target_per_keyword"`
	MaxPages                 int     `mapstructure:"max_pages"`
	NavigationTimeoutSeconds int     `mapstructure:"navigation_timeout_seconds"`
	ElementTimeoutSeconds    int     `mapstructure:"element_timeout_seconds"`
	DetailTimeoutSeconds     int     `mapstructure:"detail_timeout_seconds"`
	SessionTimeoutSeconds    int     `mapstructure:"session_timeout_seconds"`
	DetailSettleMs           int     `mapstructure:"detail_settle_ms"`
	RetryAttempts            int     `mapstructure:"retry_attempts"`
	RetryDelaySeconds        int     `mapstructure:"retry_delay_seconds"`
	Headless                 bool    `mapstructure:"headless"`
	UserAgent                string  `mapstructure:"user_agent"`
	RatePerSecond            float64 `mapstructure:"rate_per_second"`
}

// LimitsConfig caps request size and parallelism.
type LimitsConfig struct {
	MaxKeywords    int `mapstructure:"max_keywords"`
	MaxResults     int `mapstructure:"max_results"`
	MaxConcurrency int `mapstructure:"max_concurrency"`
}

// CacheConfig selects and sizes the result cache backend.
type CacheConfig struct {
	Backend   string `mapstructure:"backend"`
	TTLHours  int    `mapstructure:"ttl_hours"`
	Capacity  int    `mapstructure:"capacity"`
	DSN       string `mapstructure:"dsn"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// ProbeConfig controls the background portal reachability probe.
type ProbeConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	IntervalSeconds int  `mapstructure:"interval_seconds"`
	TimeoutSeconds  int  `mapstructure:"timeout_seconds"`
}

// PublishConfig selects the completion event publisher. Backend "none"
// disables publishing, "memory" records events in process, "pubsub" emits to
// Google Cloud Pub/Sub.
type PublishConfig struct {
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// TelemetryConfig toggles OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("YARGI")
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
	defaults := search.Defaults()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 300)
	v.SetDefault("server.shutdown_grace_seconds", 30)
	v.SetDefault("logging.development", true)
	v.SetDefault("scrape.portal_url", defaults.PortalURL)
	v.SetDefault("scrape.search_input_locator", defaults.SearchInputLocator)
	v.SetDefault("scrape.submit_locator", defaults.SubmitLocator)
	v.SetDefault("scrape.result_rows_locator", defaults.ResultRowsLocator)
	v.SetDefault("scrape.detail_pane_locator", defaults.DetailPaneLocator)
	v.SetDefault("scrape.next_page_locator", defaults.NextPageLocator)
	v.SetDefault("scrape.target_per_keyword", defaults.TargetPerKeyword)
	v.SetDefault("scrape.max_pages", defaults.MaxPages)
	v.SetDefault("scrape.navigation_timeout_seconds", 45)
	v.SetDefault("scrape.element_timeout_seconds", 20)
	v.SetDefault("scrape.detail_timeout_seconds", 20)
	v.SetDefault("scrape.session_timeout_seconds", 0)
	v.SetDefault("scrape.detail_settle_ms", 500)
	v.SetDefault("scrape.retry_attempts", defaults.Retry.Attempts)
	v.SetDefault("scrape.retry_delay_seconds", 2)
	v.SetDefault("scrape.headless", true)
	v.SetDefault("scrape.user_agent", "yargisalzeka-search/2.0")
	v.SetDefault("scrape.rate_per_second", 2.0)
	v.SetDefault("limits.max_keywords", 10)
	v.SetDefault("limits.max_results", 20)
	v.SetDefault("limits.max_concurrency", defaults.MaxConcurrency)
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl_hours", 24)
	v.SetDefault("cache.capacity", 100)
	v.SetDefault("cache.prefix", "results")
	v.SetDefault("probe.enabled", true)
	v.SetDefault("probe.interval_seconds", 60)
	v.SetDefault("probe.timeout_seconds", 10)
	v.SetDefault("publish.backend", "none")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "yargisalzeka-search")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scrape.PortalURL == "" {
		return fmt.Errorf("scrape.portal_url must be set")
	}
	if c.Scrape.TargetPerKeyword <= 0 {
		return fmt.Errorf("scrape.target_per_keyword must be > 0")
	}
	if c.Scrape.MaxPages <= 0 {
		return fmt.Errorf("scrape.max_pages must be > 0")
	}
	if c.Limits.MaxKeywords <= 0 {
		return fmt.Errorf("limits.max_keywords must be > 0")
	}
	if c.Limits.MaxResults <= 0 {
		return fmt.Errorf("limits.max_results must be > 0")
	}
	if c.Limits.MaxConcurrency <= 0 {
		return fmt.Errorf("limits.max_concurrency must be > 0")
	}
	switch c.Cache.Backend {
	case "memory":
	case "postgres":
		if c.Cache.DSN == "" {
			return fmt.Errorf("cache.dsn must be set when cache.backend is postgres")
		}
	case "gcs":
		if c.Cache.GCSBucket == "" {
			return fmt.Errorf("cache.gcs_bucket must be set when cache.backend is gcs")
		}
	default:
		return fmt.Errorf("cache.backend must be one of memory, postgres, gcs")
	}
	if c.Cache.Capacity <= 0 {
		return fmt.Errorf("cache.capacity must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Publish.Backend {
	case "", "none", "memory":
	case "pubsub":
		if c.Publish.ProjectID == "" || c.Publish.TopicName == "" {
			return fmt.Errorf("publish.project_id and publish.topic_name must be set when publish.backend is pubsub")
		}
	default:
		return fmt.Errorf("publish.backend must be one of none, memory, pubsub")
	}
	return nil
}

// SearchConfig converts the scrape and limits sections into the session
// configuration consumed by the engine.
func (c Config) SearchConfig() search.Config {
	return search.Config{
		PortalURL:          c.Scrape.PortalURL,
		SearchInputLocator: c.Scrape.SearchInputLocator,
		SubmitLocator:      c.Scrape.SubmitLocator,
		ResultRowsLocator:  c.Scrape.ResultRowsLocator,
		DetailPaneLocator:  c.Scrape.DetailPaneLocator,
		NextPageLocator:    c.Scrape.NextPageLocator,
		TargetPerKeyword:   c.Scrape.TargetPerKeyword,
		MaxPages:           c.Scrape.MaxPages,
		MaxConcurrency:     c.Limits.MaxConcurrency,
		ElementTimeout:     time.Duration(c.Scrape.ElementTimeoutSeconds) * time.Second,
		DetailTimeout:      time.Duration(c.Scrape.DetailTimeoutSeconds) * time.Second,
		SessionTimeout:     time.Duration(c.Scrape.SessionTimeoutSeconds) * time.Second,
		Retry: search.RetryPolicy{
			Attempts: c.Scrape.RetryAttempts,
			Delay:    time.Duration(c.Scrape.RetryDelaySeconds) * time.Second,
		},
	}
}

// CacheTTL converts the configured TTL into a duration.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLHours) * time.Hour
}

// NavigationTimeout bounds one full page load in the browser.
func (c Config) NavigationTimeout() time.Duration {
	return time.Duration(c.Scrape.NavigationTimeoutSeconds) * time.Second
}

// DetailSettle is the pause after a row click before the detail pane is read.
func (c Config) DetailSettle() time.Duration {
	return time.Duration(c.Scrape.DetailSettleMs) * time.Millisecond
}

// RequestTimeout bounds one API request end to end.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// ShutdownGrace bounds graceful server shutdown.
func (c Config) ShutdownGrace() time.Duration {
	return time.Duration(c.Server.ShutdownGraceSeconds) * time.Second
}

// ProbeInterval returns the pause between portal probes.
func (c Config) ProbeInterval() time.Duration {
	return time.Duration(c.Probe.IntervalSeconds) * time.Second
}

// ProbeTimeout bounds one portal probe.
func (c Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Probe.TimeoutSeconds) * time.Second
}
