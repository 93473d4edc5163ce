// Package config provides configuration management for the application.
//
// Configuration is read from an optional YAML file, with ${VAR} and ${VAR:-default}
// placeholders expanded from the environment, then overridden by well-known
// environment variables. A .env file in the working directory is loaded first.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Server     ServerConfig                 `yaml:"server"`
	Logging    LogConfig                    `yaml:"logging"`
	Metrics    MetricsConfig                `yaml:"metrics"`
	HTTP       HTTPConfig                   `yaml:"http"`
	Resilience ResilienceConfig             `yaml:"resilience"`
	Providers  map[string]RawProviderConfig `yaml:"providers"`
	Models     []ModelConfig                `yaml:"models"`
	Catalog    CatalogConfig                `yaml:"catalog"`
	Callbacks  CallbacksConfig              `yaml:"callbacks"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port          string `yaml:"port"`
	BodySizeLimit string `yaml:"body_size_limit"`
}

// LogConfig selects the log handler.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is auto, json or pretty. auto picks pretty on a terminal.
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus sink and endpoint.
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// HTTPConfig holds upstream HTTP client timeouts in seconds.
type HTTPConfig struct {
	Timeout               int `yaml:"timeout"`
	ResponseHeaderTimeout int `yaml:"response_header_timeout"`
}

// ResilienceConfig configures retries and the circuit breaker for upstream calls.
type ResilienceConfig struct {
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// RetryConfig configures exponential backoff.
type RetryConfig struct {
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	BackoffFactor  float64       `yaml:"backoff_factor"`
	JitterFactor   float64       `yaml:"jitter_factor"`
}

// CircuitBreakerConfig configures the per-provider circuit breaker.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// RawProviderConfig is a provider entry as written in YAML.
type RawProviderConfig struct {
	Type    string `yaml:"type"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// ModelConfig is one catalogue entry.
type ModelConfig struct {
	// Name is the caller-facing full name, "provider/model".
	Name string `yaml:"name"`
	// Type is completions, embedding or image. Defaults to completions.
	Type string `yaml:"type"`
	// Provider names the entry in Providers that serves the model. Defaults to
	// the prefix of Name.
	Provider string `yaml:"provider"`
	// Upstream is the model name sent to the provider. Defaults to the model
	// part of Name.
	Upstream    string         `yaml:"upstream"`
	Endpoint    string         `yaml:"endpoint"`
	Description string         `yaml:"description"`
	Pricing     *PricingConfig `yaml:"pricing"`
}

// PricingConfig holds USD prices per million tokens.
type PricingConfig struct {
	Input       float64 `yaml:"input"`
	CachedInput float64 `yaml:"cached_input"`
	Output      float64 `yaml:"output"`
}

// CatalogConfig configures catalogue caching and reloading.
type CatalogConfig struct {
	// File is an optional YAML file holding a models list that is re-read on refresh.
	File            string        `yaml:"file"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	Cache           CacheConfig   `yaml:"cache"`
}

// CacheConfig selects where the catalogue snapshot is cached.
type CacheConfig struct {
	// Type is "", local or redis.
	Type  string      `yaml:"type"`
	Path  string      `yaml:"path"`
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig holds the Redis cache settings.
type RedisConfig struct {
	URL string        `yaml:"url"`
	Key string        `yaml:"key"`
	TTL time.Duration `yaml:"ttl"`
}

// CallbacksConfig enables the model event sinks.
type CallbacksConfig struct {
	Log  bool       `yaml:"log"`
	NATS NATSConfig `yaml:"nats"`
}

// NATSConfig configures event publishing to NATS.
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// Defaults returns a configuration with every default applied.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:          "8080",
			BodySizeLimit: "10M",
		},
		Logging: LogConfig{
			Level:  "info",
			Format: "auto",
		},
		Metrics: MetricsConfig{
			Endpoint: "/metrics",
		},
		HTTP: HTTPConfig{
			Timeout:               600,
			ResponseHeaderTimeout: 600,
		},
		Resilience: ResilienceConfig{
			Retry: RetryConfig{
				MaxRetries:     3,
				InitialBackoff: time.Second,
				MaxBackoff:     30 * time.Second,
				BackoffFactor:  2.0,
				JitterFactor:   0.1,
			},
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 2,
				Timeout:          30 * time.Second,
			},
		},
		Providers: map[string]RawProviderConfig{},
		Catalog: CatalogConfig{
			RefreshInterval: 5 * time.Minute,
			Cache: CacheConfig{
				Path: ".cache/catalog.json",
			},
		},
		Callbacks: CallbacksConfig{
			Log: true,
			NATS: NATSConfig{
				SubjectPrefix: "llmgateway.events",
			},
		},
	}
}

// Load reads configuration from path (optional) and the environment.
// A missing file is not an error; every setting then comes from defaults and env.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal([]byte(expandString(string(data))), cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if cfg.Providers == nil {
		cfg.Providers = map[string]RawProviderConfig{}
	}
	if _, err := ParseBodySizeLimit(cfg.Server.BodySizeLimit); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadModels reads a YAML file holding either a bare list of models or a
// document with a top-level "models" key.
func LoadModels(path string) ([]ModelConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read models file: %w", err)
	}
	expanded := []byte(expandString(string(data)))

	var doc struct {
		Models []ModelConfig `yaml:"models"`
	}
	if err := yaml.Unmarshal(expanded, &doc); err == nil && doc.Models != nil {
		return doc.Models, nil
	}
	var list []ModelConfig
	if err := yaml.Unmarshal(expanded, &list); err != nil {
		return nil, fmt.Errorf("failed to parse models file %s: %w", path, err)
	}
	return list, nil
}

var envPlaceholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandString replaces ${VAR} and ${VAR:-default}. Unset variables without a
// default are left untouched so that missing secrets stay visible.
func expandString(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return envPlaceholder.ReplaceAllStringFunc(s, func(match string) string {
		groups := envPlaceholder.FindStringSubmatch(match)
		if v, ok := os.LookupEnv(groups[1]); ok && v != "" {
			return v
		}
		if groups[2] != "" {
			return groups[3]
		}
		return match
	})
}

// applyEnvOverrides overlays well-known environment variables onto cfg.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("BODY_SIZE_LIMIT"); v != "" {
		cfg.Server.BodySizeLimit = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("METRICS_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid METRICS_ENABLED %q: %w", v, err)
		}
		cfg.Metrics.Enabled = b
	}
	if v := os.Getenv("HTTP_TIMEOUT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid HTTP_TIMEOUT %q: %w", v, err)
		}
		cfg.HTTP.Timeout = n
	}
	if v := os.Getenv("HTTP_RESPONSE_HEADER_TIMEOUT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid HTTP_RESPONSE_HEADER_TIMEOUT %q: %w", v, err)
		}
		cfg.HTTP.ResponseHeaderTimeout = n
	}
	if v := os.Getenv("CATALOG_CACHE_TYPE"); v != "" {
		cfg.Catalog.Cache.Type = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Catalog.Cache.Redis.URL = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.Callbacks.NATS.URL = v
	}
	return nil
}

// ParseBodySizeLimit parses sizes such as "10M", "512K" or "1048576" into bytes.
func ParseBodySizeLimit(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return 0, nil
	}
	multiplier := int64(1)
	switch {
	case strings.HasSuffix(s, "G"):
		multiplier, s = 1<<30, strings.TrimSuffix(s, "G")
	case strings.HasSuffix(s, "M"):
		multiplier, s = 1<<20, strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "K"):
		multiplier, s = 1<<10, strings.TrimSuffix(s, "K")
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid body size limit %q", s)
	}
	return n * multiplier, nil
}
