// Package config loads and validates sitemirror configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JakeFAU/sitemirror/internal/restriction"
	"github.com/JakeFAU/sitemirror/internal/uri"
)

// Store and output drivers.
const (
	DriverMemory   = "memory"
	DriverFS       = "fs"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverGCS      = "gcs"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Crawl     CrawlConfig     `mapstructure:"crawl"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Proxy     ProxyConfig     `mapstructure:"proxy"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Store     StoreConfig     `mapstructure:"store"`
	Output    OutputConfig    `mapstructure:"output"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Progress  ProgressConfig  `mapstructure:"progress"`
}

// CrawlConfig governs the pipeline phases.
type CrawlConfig struct {
	StartURIs       []string         `mapstructure:"start_uris"`
	Restrictions    []string         `mapstructure:"restrictions"`
	Concurrency     int              `mapstructure:"concurrency"`
	CheckpointEvery int              `mapstructure:"checkpoint_every"`
	Lifetime        time.Duration    `mapstructure:"lifetime"`
	DelayMin        time.Duration    `mapstructure:"delay_min"`
	DelayMax        time.Duration    `mapstructure:"delay_max"`
	UserAgent       string           `mapstructure:"user_agent"`
	RespectRobots   bool             `mapstructure:"respect_robots"`
	SizeLimits      map[string]int64 `mapstructure:"size_limits"`
	BasePath        string           `mapstructure:"base_path"`
}

// HTTPConfig configures the fetcher and its inner retry policy.
type HTTPConfig struct {
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	BackoffInitial time.Duration `mapstructure:"backoff_initial"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
	MaxBodySize    int           `mapstructure:"max_body_size"`
}

// ProxyConfig shapes the proxy selection chain.
type ProxyConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	MaxAttempts int    `mapstructure:"max_attempts"`
	Limit       int    `mapstructure:"limit"`
	Order       string `mapstructure:"order"`
}

// RateLimitConfig configures the optional per-host token bucket.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// StoreConfig selects where the registry, bodies and proxies persist.
type StoreConfig struct {
	Driver      string `mapstructure:"driver"`
	Dir         string `mapstructure:"dir"`
	DSN         string `mapstructure:"dsn"`
	TablePrefix string `mapstructure:"table_prefix"`
}

// OutputConfig selects where the mirror is written.
type OutputConfig struct {
	Driver string `mapstructure:"driver"`
	Dir    string `mapstructure:"dir"`
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// ServerConfig controls the optional status server.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig controls zap.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// ProgressConfig toggles the live console line.
type ProgressConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Option customizes the viper instance before unmarshalling.
type Option func(v *viper.Viper) error

// WithFlags binds command-line flags to config keys. keys maps flag name to
// config key; flags that were not set keep the lower-precedence value.
func WithFlags(flags *pflag.FlagSet, keys map[string]string) Option {
	return func(v *viper.Viper) error {
		for name, key := range keys {
			f := flags.Lookup(name)
			if f == nil || !f.Changed {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
		return nil
	}
}

// Load builds a Config from defaults, an optional file, CRAWLER_* environment
// variables and bound flags.
func Load(path string, opts ...Option) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	for _, opt := range opts {
		if err := opt(v); err != nil {
			return Config{}, err
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
	v.SetDefault("crawl.start_uris", []string{})
	v.SetDefault("crawl.restrictions", []string{})
	v.SetDefault("crawl.concurrency", 4)
	v.SetDefault("crawl.checkpoint_every", 50)
	v.SetDefault("crawl.lifetime", time.Duration(0))
	v.SetDefault("crawl.delay_min", time.Duration(0))
	v.SetDefault("crawl.delay_max", time.Duration(0))
	v.SetDefault("crawl.user_agent", "sitemirror/0.1")
	v.SetDefault("crawl.respect_robots", true)
	v.SetDefault("crawl.base_path", "")
	v.SetDefault("http.timeout", 15*time.Second)
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("http.backoff_initial", 250*time.Millisecond)
	v.SetDefault("http.backoff_max", 2*time.Second)
	v.SetDefault("http.max_body_size", 0)
	v.SetDefault("proxy.enabled", false)
	v.SetDefault("proxy.max_attempts", 3)
	v.SetDefault("proxy.limit", 3)
	v.SetDefault("proxy.order", "asc")
	v.SetDefault("rate_limit.rps", 0)
	v.SetDefault("rate_limit.burst", 1)
	v.SetDefault("store.driver", DriverFS)
	v.SetDefault("store.dir", ".sitemirror")
	v.SetDefault("store.table_prefix", "sitemirror_")
	v.SetDefault("output.driver", DriverFS)
	v.SetDefault("output.dir", "mirror")
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_key", "")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", true)
	v.SetDefault("progress.enabled", false)
}

// Validate enforces required values and reasonable limits. Start URIs are
// optional here; the pipeline requires them for crawl phases.
func (c Config) Validate() error {
	for _, raw := range c.Crawl.StartURIs {
		u, err := uri.Parse(raw)
		if err != nil {
			return fmt.Errorf("crawl.start_uris: %w", err)
		}
		if !u.IsAbs() || !uri.Fetchable(u) {
			return fmt.Errorf("crawl.start_uris: %q must be an absolute http(s) URI", raw)
		}
		if !govalidator.IsHost(u.Hostname()) {
			return fmt.Errorf("crawl.start_uris: %q has a malformed host", raw)
		}
	}
	if _, err := restriction.ParseAll(c.Crawl.Restrictions); err != nil {
		return fmt.Errorf("crawl.restrictions: %w", err)
	}
	if c.Crawl.Concurrency <= 0 {
		return errors.New("crawl.concurrency must be > 0")
	}
	if c.Crawl.CheckpointEvery < 0 {
		return errors.New("crawl.checkpoint_every must be >= 0")
	}
	if c.Crawl.Lifetime < 0 {
		return errors.New("crawl.lifetime must be >= 0")
	}
	if c.Crawl.DelayMin < 0 || c.Crawl.DelayMax < c.Crawl.DelayMin {
		return errors.New("crawl.delay_min must be >= 0 and <= crawl.delay_max")
	}
	for ct, limit := range c.Crawl.SizeLimits {
		if limit < 0 {
			return fmt.Errorf("crawl.size_limits[%s] must be >= 0", ct)
		}
	}
	if c.HTTP.Timeout <= 0 {
		return errors.New("http.timeout must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return errors.New("http.max_retries must be >= 0")
	}
	switch strings.ToLower(c.Proxy.Order) {
	case "", "asc", "desc":
	default:
		return fmt.Errorf("proxy.order must be asc or desc, got %q", c.Proxy.Order)
	}
	if err := c.Store.validate(); err != nil {
		return err
	}
	if err := c.Output.validate(); err != nil {
		return err
	}
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		return errors.New("server.port must be between 1 and 65535")
	}
	return nil
}

func (s StoreConfig) validate() error {
	switch s.Driver {
	case DriverMemory:
	case DriverFS, DriverSQLite:
		if strings.TrimSpace(s.Dir) == "" {
			return fmt.Errorf("store.dir is required for the %s driver", s.Driver)
		}
	case DriverPostgres:
		if s.DSN == "" {
			return errors.New("store.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("store.driver %q is not one of memory, fs, sqlite, postgres", s.Driver)
	}
	return nil
}

func (o OutputConfig) validate() error {
	switch o.Driver {
	case DriverFS:
		if strings.TrimSpace(o.Dir) == "" {
			return errors.New("output.dir is required for the fs driver")
		}
	case DriverGCS:
		if o.Bucket == "" {
			return errors.New("output.bucket is required for the gcs driver")
		}
	default:
		return fmt.Errorf("output.driver %q is not one of fs, gcs", o.Driver)
	}
	return nil
}
