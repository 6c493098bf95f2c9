// Package config loads and validates docverify configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/docverify/internal/policy/ratelimit"
	"github.com/JakeFAU/docverify/internal/proxy"
	"github.com/JakeFAU/docverify/internal/readability"
	"github.com/JakeFAU/docverify/internal/storage/badger"
	"github.com/JakeFAU/docverify/internal/storage/gcs"
	"github.com/JakeFAU/docverify/internal/storage/local"
	"github.com/JakeFAU/docverify/internal/storage/postgres"
)

// Cache backends.
const (
	BackendMemory   = "memory"
	BackendLocal    = "local"
	BackendBadger   = "badger"
	BackendGCS      = "gcs"
	BackendPostgres = "postgres"
)

// Publisher backends.
const (
	PublisherNone   = "none"
	PublisherMemory = "memory"
	PublisherPubSub = "pubsub"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig       `mapstructure:"server"`
	Auth        AuthConfig         `mapstructure:"auth"`
	Logging     LoggingConfig      `mapstructure:"logging"`
	Tracing     TracingConfig      `mapstructure:"tracing"`
	Fetch       FetchConfig        `mapstructure:"fetch"`
	Proxy       ProxyConfig        `mapstructure:"proxy"`
	Cache       CacheConfig        `mapstructure:"cache"`
	Readability readability.Config `mapstructure:"readability"`
	Extract     ExtractConfig      `mapstructure:"extract"`
	Publisher   PublisherConfig    `mapstructure:"publisher"`
	Batch       BatchConfig        `mapstructure:"batch"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TracingConfig toggles the OpenTelemetry tracer provider.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// FetchConfig governs the direct fetch path.
type FetchConfig struct {
	Timeout   time.Duration    `mapstructure:"timeout"`
	UserAgent string           `mapstructure:"user_agent"`
	MaxBytes  int64            `mapstructure:"max_bytes"`
	RateLimit ratelimit.Config `mapstructure:"rate_limit"`
}

// ProxyConfig covers both the proxy client and the intermediary endpoint.
type ProxyConfig struct {
	Endpoint     string              `mapstructure:"endpoint"`
	AllowedHosts []string            `mapstructure:"allowed_hosts"`
	MaxBytes     int64               `mapstructure:"max_bytes"`
	Timeout      time.Duration       `mapstructure:"timeout"`
	Serve        bool                `mapstructure:"serve"`
	Breaker      proxy.BreakerConfig `mapstructure:"breaker"`
}

// CacheConfig selects and tunes the content cache backend.
type CacheConfig struct {
	Backend  string          `mapstructure:"backend"`
	MaxBytes int64           `mapstructure:"max_bytes"`
	Local    local.Config    `mapstructure:"local"`
	Badger   badger.Config   `mapstructure:"badger"`
	GCS      gcs.Config      `mapstructure:"gcs"`
	Postgres postgres.Config `mapstructure:"postgres"`
}

// ExtractConfig bounds text extraction.
type ExtractConfig struct {
	MaxPages int `mapstructure:"max_pages"`
}

// PublisherConfig selects where outcome events go.
type PublisherConfig struct {
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// BatchConfig controls workbook batch verification.
type BatchConfig struct {
	Concurrency   int    `mapstructure:"concurrency"`
	URLColumn     string `mapstructure:"url_column"`
	GlossarySheet string `mapstructure:"glossary_sheet"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DOCVERIFY")
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
	def := readability.DefaultConfig()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "docverify")
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("fetch.timeout", 30*time.Second)
	v.SetDefault("fetch.user_agent", "docverify/0.1")
	v.SetDefault("fetch.max_bytes", int64(100<<20))
	v.SetDefault("fetch.rate_limit.enabled", false)
	v.SetDefault("fetch.rate_limit.rps", 2.0)
	v.SetDefault("fetch.rate_limit.burst", 4)
	v.SetDefault("proxy.endpoint", "")
	v.SetDefault("proxy.allowed_hosts", []string{})
	v.SetDefault("proxy.max_bytes", proxy.DefaultMaxBytes)
	v.SetDefault("proxy.timeout", 30*time.Second)
	v.SetDefault("proxy.serve", true)
	v.SetDefault("proxy.breaker.enabled", true)
	v.SetDefault("proxy.breaker.min_requests", 5)
	v.SetDefault("proxy.breaker.failure_ratio", 0.6)
	v.SetDefault("proxy.breaker.open_timeout", 30*time.Second)
	v.SetDefault("proxy.breaker.half_open_max", 1)
	v.SetDefault("cache.backend", BackendMemory)
	v.SetDefault("cache.max_bytes", int64(500<<20))
	v.SetDefault("cache.local.base_dir", "data/cache")
	v.SetDefault("cache.badger.path", "data/badger")
	v.SetDefault("cache.badger.in_memory", false)
	v.SetDefault("cache.badger.sync_writes", false)
	v.SetDefault("cache.gcs.bucket", "")
	v.SetDefault("cache.gcs.prefix", "docverify/cache/")
	v.SetDefault("cache.postgres.dsn", "")
	v.SetDefault("cache.postgres.table", "doc_cache")
	v.SetDefault("readability.min_text_length", def.MinTextLength)
	v.SetDefault("readability.gibberish_threshold", def.GibberishThreshold)
	v.SetDefault("readability.min_eligible_fields", def.MinEligibleFields)
	v.SetDefault("readability.min_field_length", def.MinFieldLength)
	v.SetDefault("readability.min_matches", def.MinMatches)
	v.SetDefault("extract.max_pages", 0)
	v.SetDefault("publisher.backend", PublisherNone)
	v.SetDefault("publisher.project_id", "")
	v.SetDefault("publisher.topic", "docverify-outcomes")
	v.SetDefault("batch.concurrency", 4)
	v.SetDefault("batch.url_column", "URL")
	v.SetDefault("batch.glossary_sheet", "Glossary")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be > 0")
	}
	if c.Fetch.MaxBytes <= 0 {
		return fmt.Errorf("fetch.max_bytes must be > 0")
	}
	if c.Fetch.RateLimit.Enabled && c.Fetch.RateLimit.RPS <= 0 {
		return fmt.Errorf("fetch.rate_limit.rps must be > 0 when rate limiting is enabled")
	}
	if c.Proxy.Timeout <= 0 {
		return fmt.Errorf("proxy.timeout must be > 0")
	}
	if c.Proxy.MaxBytes <= 0 {
		return fmt.Errorf("proxy.max_bytes must be > 0")
	}
	if c.Proxy.Breaker.FailureRatio < 0 || c.Proxy.Breaker.FailureRatio > 1 {
		return fmt.Errorf("proxy.breaker.failure_ratio must be within [0,1]")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0,1]")
	}
	if c.Cache.MaxBytes <= 0 {
		return fmt.Errorf("cache.max_bytes must be > 0")
	}
	switch c.Cache.Backend {
	case BackendMemory:
	case BackendLocal:
		if c.Cache.Local.BaseDir == "" {
			return fmt.Errorf("cache.local.base_dir is required for the local backend")
		}
	case BackendBadger:
		if c.Cache.Badger.Path == "" && !c.Cache.Badger.InMemory {
			return fmt.Errorf("cache.badger.path is required unless cache.badger.in_memory is set")
		}
	case BackendGCS:
		if c.Cache.GCS.Bucket == "" {
			return fmt.Errorf("cache.gcs.bucket is required for the gcs backend")
		}
	case BackendPostgres:
		if c.Cache.Postgres.DSN == "" {
			return fmt.Errorf("cache.postgres.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("cache.backend %q is not supported", c.Cache.Backend)
	}
	if c.Readability.GibberishThreshold < 0 || c.Readability.GibberishThreshold >= 1 {
		return fmt.Errorf("readability.gibberish_threshold must be within [0,1)")
	}
	switch c.Publisher.Backend {
	case PublisherNone, PublisherMemory:
	case PublisherPubSub:
		if c.Publisher.ProjectID == "" || c.Publisher.Topic == "" {
			return fmt.Errorf("publisher.project_id and publisher.topic are required for pubsub")
		}
	default:
		return fmt.Errorf("publisher.backend %q is not supported", c.Publisher.Backend)
	}
	if c.Batch.Concurrency <= 0 {
		return fmt.Errorf("batch.concurrency must be > 0")
	}
	return nil
}
