// Package config loads and validates archiver configuration via Viper.
package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/sitearchiver/internal/frontier"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Crawler CrawlerConfig `mapstructure:"crawler"`
	Browser BrowserConfig `mapstructure:"browser"`
	Fetch   FetchConfig   `mapstructure:"fetch"`
	Archive ArchiveConfig `mapstructure:"archive"`
	Export  ExportConfig  `mapstructure:"export"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Replay  ReplayConfig  `mapstructure:"replay"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// CrawlerConfig governs the dispatcher and page crawl timings.
type CrawlerConfig struct {
	// Instances is the concurrency budget. Zero means half the CPUs.
	Instances         int      `mapstructure:"instances"`
	OutputDir         string   `mapstructure:"output_dir"`
	UserAgent         string   `mapstructure:"user_agent"`
	NavTimeoutSeconds int      `mapstructure:"nav_timeout_seconds"`
	NetworkIdleMs     int      `mapstructure:"network_idle_ms"`
	SettleDelayMs     int      `mapstructure:"settle_delay_ms"`
	HoverLinks        bool     `mapstructure:"hover_links"`
	HoverDelayMs      int      `mapstructure:"hover_delay_ms"`
	CheckpointEvery   int      `mapstructure:"checkpoint_every"`
	SeedSitemaps      bool     `mapstructure:"seed_sitemaps"`
	Blocklist         []string `mapstructure:"blocklist"`
}

// BrowserConfig controls the Chrome process.
type BrowserConfig struct {
	Headless    bool   `mapstructure:"headless"`
	UserDataDir string `mapstructure:"user_data_dir"`
	ExecPath    string `mapstructure:"exec_path"`
}

// FetchConfig configures direct HTTP retrieval.
type FetchConfig struct {
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	RatePerOrigin  float64 `mapstructure:"rate_per_origin"`
	RespectRobots  bool    `mapstructure:"respect_robots"`
	MaxBodyBytes   int     `mapstructure:"max_body_bytes"`
}

// ArchiveConfig selects how captured content is rewritten.
type ArchiveConfig struct {
	// OriginalHTML keeps network copies of documents instead of the
	// rendered snapshot.
	OriginalHTML bool `mapstructure:"original_html"`
	// OriginalURLs disables rewriting the crawl origin to relative URLs.
	OriginalURLs bool `mapstructure:"original_urls"`
}

// ExportConfig selects where a finished archive is copied.
type ExportConfig struct {
	Provider  string `mapstructure:"provider"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// NotifyConfig holds metadata for completion notifications.
type NotifyConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// MetricsConfig exposes Prometheus metrics when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// ReplayConfig controls the replay server.
type ReplayConfig struct {
	Dir          string `mapstructure:"dir"`
	Host         string `mapstructure:"host"`
	FlushDelayMs int    `mapstructure:"flush_delay_ms"`
	LiveFetch    bool   `mapstructure:"live_fetch"`
}

// Load builds a Config from disk and environment. Overrides, typically
// from command-line flags, take precedence over both.
func Load(path string, overrides map[string]any) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ARCHIVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	for key, value := range overrides {
		v.Set(key, value)
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
	v.SetDefault("logging.development", true)
	v.SetDefault("crawler.instances", 0)
	v.SetDefault("crawler.output_dir", ".")
	v.SetDefault("crawler.user_agent", "")
	v.SetDefault("crawler.nav_timeout_seconds", 60)
	v.SetDefault("crawler.network_idle_ms", 500)
	v.SetDefault("crawler.settle_delay_ms", 2000)
	v.SetDefault("crawler.hover_links", true)
	v.SetDefault("crawler.hover_delay_ms", 500)
	v.SetDefault("crawler.checkpoint_every", 250)
	v.SetDefault("crawler.seed_sitemaps", true)
	v.SetDefault("crawler.blocklist", append([]string(nil), frontier.DefaultBlocklist...))
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_data_dir", "./chrome")
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("fetch.timeout_seconds", 30)
	v.SetDefault("fetch.rate_per_origin", 0)
	v.SetDefault("fetch.respect_robots", false)
	v.SetDefault("fetch.max_body_bytes", 0)
	v.SetDefault("archive.original_html", false)
	v.SetDefault("archive.original_urls", false)
	v.SetDefault("export.provider", "none")
	v.SetDefault("export.local_dir", "")
	v.SetDefault("export.gcs_bucket", "")
	v.SetDefault("export.prefix", "archives")
	v.SetDefault("notify.provider", "none")
	v.SetDefault("notify.project_id", "")
	v.SetDefault("notify.topic", "")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("replay.dir", ".")
	v.SetDefault("replay.host", "localhost")
	v.SetDefault("replay.flush_delay_ms", 5000)
	v.SetDefault("replay.live_fetch", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawler.Instances < 0 {
		return fmt.Errorf("crawler.instances must be >= 0")
	}
	if c.Crawler.OutputDir == "" {
		return fmt.Errorf("crawler.output_dir must be set")
	}
	if c.Crawler.NavTimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.nav_timeout_seconds must be > 0")
	}
	if c.Crawler.NetworkIdleMs < 0 || c.Crawler.SettleDelayMs < 0 || c.Crawler.HoverDelayMs < 0 {
		return fmt.Errorf("crawler delays must be >= 0")
	}
	if c.Crawler.CheckpointEvery <= 0 {
		return fmt.Errorf("crawler.checkpoint_every must be > 0")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Fetch.RatePerOrigin < 0 {
		return fmt.Errorf("fetch.rate_per_origin must be >= 0")
	}
	switch c.Export.Provider {
	case "", "none":
	case "local":
		if c.Export.LocalDir == "" {
			return fmt.Errorf("export.local_dir must be set when export.provider is local")
		}
	case "gcs":
		if c.Export.GCSBucket == "" {
			return fmt.Errorf("export.gcs_bucket must be set when export.provider is gcs")
		}
	default:
		return fmt.Errorf("unknown export.provider %q", c.Export.Provider)
	}
	switch c.Notify.Provider {
	case "", "none":
	case "pubsub":
		if c.Notify.ProjectID == "" || c.Notify.Topic == "" {
			return fmt.Errorf("notify.project_id and notify.topic must be set when notify.provider is pubsub")
		}
	default:
		return fmt.Errorf("unknown notify.provider %q", c.Notify.Provider)
	}
	if c.Replay.FlushDelayMs < 0 {
		return fmt.Errorf("replay.flush_delay_ms must be >= 0")
	}
	return nil
}

// Budget returns the dispatcher concurrency budget.
func (c CrawlerConfig) Budget() int {
	if c.Instances > 0 {
		return c.Instances
	}
	return max(1, runtime.NumCPU()/2)
}

// NavTimeout returns the navigation timeout.
func (c CrawlerConfig) NavTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSeconds) * time.Second
}

// NetworkIdle returns the quiet period that ends navigation.
func (c CrawlerConfig) NetworkIdle() time.Duration {
	return time.Duration(c.NetworkIdleMs) * time.Millisecond
}

// SettleDelay returns the grace period after load.
func (c CrawlerConfig) SettleDelay() time.Duration {
	return time.Duration(c.SettleDelayMs) * time.Millisecond
}

// HoverDelay returns the pause after each hover probe.
func (c CrawlerConfig) HoverDelay() time.Duration {
	return time.Duration(c.HoverDelayMs) * time.Millisecond
}

// Timeout returns the direct fetch timeout.
func (c FetchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// FlushDelay returns the debounce delay for replay writes.
func (c ReplayConfig) FlushDelay() time.Duration {
	return time.Duration(c.FlushDelayMs) * time.Millisecond
}
