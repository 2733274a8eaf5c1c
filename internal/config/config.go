package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Subgraph Subgraph `yaml:"subgraph"`
	Retry    Retry    `yaml:"retry"`
	Redis    Redis    `yaml:"redis"`
	Enricher Enricher `yaml:"enricher"`
	Pipeline Pipeline `yaml:"pipeline"`
	Server   Server   `yaml:"server"`
	Log      Log      `yaml:"log"`
	Tracing  Tracing  `yaml:"tracing"`
}

type Subgraph struct {
	V2URL          string        `yaml:"v2_url"`
	V3URL          string        `yaml:"v3_url"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	PageSize       int           `yaml:"page_size"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RateLimitRPS   float64       `yaml:"rate_limit_rps"`
	RateLimitBurst int           `yaml:"rate_limit_burst"`
	RateMaxWait    time.Duration `yaml:"rate_max_wait"`
}

type Retry struct {
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	Multiplier     float64       `yaml:"multiplier"`
	Jitter         float64       `yaml:"jitter"`
	MaxAttempts    int           `yaml:"max_attempts"`
}

type Redis struct {
	URL             string `yaml:"url"`
	Channel         string `yaml:"channel"`
	KeyPrefix       string `yaml:"key_prefix"`
	PublishAttempts int    `yaml:"publish_attempts"`
}

type Enricher struct {
	CacheSize   int           `yaml:"cache_size"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
	RefreshWait time.Duration `yaml:"refresh_wait"`
}

type Pipeline struct {
	QueueSize     int `yaml:"queue_size"`
	DegradedAfter int `yaml:"degraded_after"`
}

type Server struct {
	HealthPort int `yaml:"health_port"`
}

type Log struct {
	Level string `yaml:"level"`
}

type Tracing struct {
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

// Load builds the configuration from defaults, an optional YAML file named
// by CONFIG_FILE, then environment variables, in increasing precedence.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Subgraph: Subgraph{
			V2URL:          "",
			V3URL:          "",
			PollInterval:   10 * time.Second,
			PageSize:       100,
			RequestTimeout: 30 * time.Second,
			RateLimitRPS:   5,
			RateLimitBurst: 10,
			RateMaxWait:    10 * time.Second,
		},
		Retry: Retry{
			InitialBackoff: time.Second,
			MaxBackoff:     30 * time.Second,
			Multiplier:     2.0,
			Jitter:         0.1,
			MaxAttempts:    5,
		},
		Redis: Redis{
			URL:             "redis://localhost:6379",
			Channel:         "uniswap:swaps",
			KeyPrefix:       "uniswap:relay:",
			PublishAttempts: 3,
		},
		Enricher: Enricher{
			CacheSize:   1024,
			CacheTTL:    5 * time.Minute,
			RefreshWait: 150 * time.Millisecond,
		},
		Pipeline: Pipeline{
			QueueSize:     1000,
			DegradedAfter: 3,
		},
		Server: Server{
			HealthPort: 8080,
		},
		Log: Log{
			Level: "info",
		},
	}
}

func (c *Config) applyEnv() {
	c.Subgraph.V2URL = getEnv("SUBGRAPH_V2_URL", c.Subgraph.V2URL)
	c.Subgraph.V3URL = getEnv("SUBGRAPH_V3_URL", c.Subgraph.V3URL)
	c.Subgraph.PollInterval = getEnvDuration("POLL_INTERVAL", c.Subgraph.PollInterval)
	c.Subgraph.PageSize = getEnvInt("PAGE_SIZE", c.Subgraph.PageSize)
	c.Subgraph.RequestTimeout = getEnvDuration("REQUEST_TIMEOUT", c.Subgraph.RequestTimeout)
	c.Subgraph.RateLimitRPS = getEnvFloat("RATE_LIMIT_RPS", c.Subgraph.RateLimitRPS)
	c.Subgraph.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", c.Subgraph.RateLimitBurst)
	c.Subgraph.RateMaxWait = getEnvDuration("RATE_MAX_WAIT", c.Subgraph.RateMaxWait)

	c.Retry.InitialBackoff = getEnvDuration("RETRY_INITIAL_BACKOFF", c.Retry.InitialBackoff)
	c.Retry.MaxBackoff = getEnvDuration("RETRY_MAX_BACKOFF", c.Retry.MaxBackoff)
	c.Retry.Multiplier = getEnvFloat("RETRY_MULTIPLIER", c.Retry.Multiplier)
	c.Retry.Jitter = getEnvFloat("RETRY_JITTER", c.Retry.Jitter)
	c.Retry.MaxAttempts = getEnvInt("RETRY_MAX_ATTEMPTS", c.Retry.MaxAttempts)

	c.Redis.URL = getEnv("REDIS_URL", c.Redis.URL)
	c.Redis.Channel = getEnv("REDIS_CHANNEL", c.Redis.Channel)
	c.Redis.KeyPrefix = getEnv("REDIS_KEY_PREFIX", c.Redis.KeyPrefix)
	c.Redis.PublishAttempts = getEnvInt("PUBLISH_ATTEMPTS", c.Redis.PublishAttempts)

	c.Enricher.CacheSize = getEnvInt("ENRICHER_CACHE_SIZE", c.Enricher.CacheSize)
	c.Enricher.CacheTTL = getEnvDuration("ENRICHER_CACHE_TTL", c.Enricher.CacheTTL)
	c.Enricher.RefreshWait = getEnvDuration("ENRICHER_REFRESH_WAIT", c.Enricher.RefreshWait)

	c.Pipeline.QueueSize = getEnvInt("QUEUE_SIZE", c.Pipeline.QueueSize)
	c.Pipeline.DegradedAfter = getEnvInt("DEGRADED_AFTER", c.Pipeline.DegradedAfter)

	c.Server.HealthPort = getEnvInt("HEALTH_PORT", c.Server.HealthPort)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Tracing.Endpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.Tracing.Endpoint)
	c.Tracing.Insecure = getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", c.Tracing.Insecure)
}

func (c *Config) validate() error {
	if c.Subgraph.V2URL == "" && c.Subgraph.V3URL == "" {
		return fmt.Errorf("at least one of SUBGRAPH_V2_URL or SUBGRAPH_V3_URL is required")
	}
	if c.Subgraph.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive")
	}
	if c.Subgraph.PageSize <= 0 || c.Subgraph.PageSize > 1000 {
		return fmt.Errorf("PAGE_SIZE must be in (0, 1000]")
	}
	if c.Subgraph.RateLimitRPS <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must be positive")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be positive")
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
		return fmt.Errorf("RETRY_JITTER must be in [0, 1]")
	}
	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if c.Redis.Channel == "" {
		return fmt.Errorf("REDIS_CHANNEL is required")
	}
	if c.Pipeline.QueueSize <= 0 {
		return fmt.Errorf("QUEUE_SIZE must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
