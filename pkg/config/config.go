// Package config loads application configuration from an optional YAML file
// overlaid by OAUTHD_* environment variables. Environment always wins, so a
// deployment can ship a base file and override per instance.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quillsec/oauthd/pkg/observability"
	"github.com/quillsec/oauthd/pkg/storage"
)

// Duration wraps time.Duration so YAML files can use human-readable forms
// like "45m" or "10s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `yaml:"server"`

	// Storage configuration
	Storage storage.Config `yaml:"storage"`

	// Token and code lifetimes
	Auth AuthConfig `yaml:"auth"`

	// Token endpoint rate limiting
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// Observability configuration
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string   `yaml:"host"`
	Port            string   `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	IdleTimeout     Duration `yaml:"idle_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`
}

// AuthConfig holds token and authorization-code lifetimes
type AuthConfig struct {
	AccessTokenLifetime       Duration `yaml:"access_token_lifetime"`
	RefreshTokenLifetime      Duration `yaml:"refresh_token_lifetime"`
	AuthorizationCodeLifetime Duration `yaml:"authorization_code_lifetime"`
}

// RateLimitConfig holds token-endpoint rate limiting settings
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel string `yaml:"log_level"`

	// Metrics
	MetricsEnabled bool `yaml:"metrics_enabled"`

	// OpenTelemetry
	OTelEnabled        bool   `yaml:"otel_enabled"`
	OTelEndpoint       string `yaml:"otel_endpoint"`
	OTelServiceName    string `yaml:"otel_service_name"`
	OTelServiceVersion string `yaml:"otel_service_version"`
	OTelInsecure       bool   `yaml:"otel_insecure"`
}

// LoadConfig loads configuration: defaults, then the YAML file named by
// OAUTHD_CONFIG_FILE (if set), then environment variable overrides.
func LoadConfig() (*Config, error) {
	cfg := defaultConfig()

	if path := getEnv("OAUTHD_CONFIG_FILE", ""); path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     Duration(15 * time.Second),
			WriteTimeout:    Duration(15 * time.Second),
			IdleTimeout:     Duration(60 * time.Second),
			ShutdownTimeout: Duration(30 * time.Second),
			HealthPort:      "9090",
		},
		Storage: storage.DefaultConfig(),
		Auth: AuthConfig{
			AccessTokenLifetime:       Duration(time.Hour),
			RefreshTokenLifetime:      Duration(14 * 24 * time.Hour),
			AuthorizationCodeLifetime: Duration(5 * time.Minute),
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 60,
			Burst:             10,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEnabled:        false,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "oauthd",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
		},
	}
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnv overlays OAUTHD_* environment variables onto cfg
func applyEnv(cfg *Config) {
	// Server
	cfg.Server.Host = getEnv("OAUTHD_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnv("OAUTHD_PORT", cfg.Server.Port)
	cfg.Server.ReadTimeout = Duration(getEnvDuration("OAUTHD_READ_TIMEOUT", cfg.Server.ReadTimeout.Std()))
	cfg.Server.WriteTimeout = Duration(getEnvDuration("OAUTHD_WRITE_TIMEOUT", cfg.Server.WriteTimeout.Std()))
	cfg.Server.IdleTimeout = Duration(getEnvDuration("OAUTHD_IDLE_TIMEOUT", cfg.Server.IdleTimeout.Std()))
	cfg.Server.ShutdownTimeout = Duration(getEnvDuration("OAUTHD_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout.Std()))
	cfg.Server.HealthPort = getEnv("OAUTHD_HEALTH_PORT", cfg.Server.HealthPort)

	// Storage
	cfg.Storage.Type = getEnv("OAUTHD_STORAGE_TYPE", cfg.Storage.Type)
	cfg.Storage.SQLitePath = getEnv("OAUTHD_SQLITE_PATH", cfg.Storage.SQLitePath)
	cfg.Storage.PostgresURL = getEnv("OAUTHD_POSTGRES_URL", cfg.Storage.PostgresURL)
	if maxConns := getEnvInt("OAUTHD_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.Storage.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("OAUTHD_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.Storage.PostgresMinConns = minConns
	}
	if timeout := getEnvDuration("OAUTHD_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.Storage.PostgresTimeout = timeout
	}
	cfg.Storage.RedisURL = getEnv("OAUTHD_REDIS_URL", cfg.Storage.RedisURL)
	cfg.Storage.RedisPassword = getEnv("OAUTHD_REDIS_PASSWORD", cfg.Storage.RedisPassword)
	if redisDB := getEnvInt("OAUTHD_REDIS_DB", -1); redisDB >= 0 {
		cfg.Storage.RedisDB = redisDB
	}
	if retries := getEnvInt("OAUTHD_REDIS_MAX_RETRIES", 0); retries > 0 {
		cfg.Storage.RedisMaxRetries = retries
	}
	if poolSize := getEnvInt("OAUTHD_REDIS_POOL_SIZE", 0); poolSize > 0 {
		cfg.Storage.RedisPoolSize = poolSize
	}
	cfg.Storage.CacheEnabled = getEnvBool("OAUTHD_CACHE_ENABLED", cfg.Storage.CacheEnabled)
	if cacheSize := getEnvInt("OAUTHD_CLIENT_CACHE_SIZE", 0); cacheSize > 0 {
		cfg.Storage.ClientCacheSize = cacheSize
	}
	cfg.Storage.CleanupSchedule = getEnv("OAUTHD_CLEANUP_SCHEDULE", cfg.Storage.CleanupSchedule)

	// Auth lifetimes
	cfg.Auth.AccessTokenLifetime = Duration(getEnvDuration("OAUTHD_ACCESS_TOKEN_LIFETIME", cfg.Auth.AccessTokenLifetime.Std()))
	cfg.Auth.RefreshTokenLifetime = Duration(getEnvDuration("OAUTHD_REFRESH_TOKEN_LIFETIME", cfg.Auth.RefreshTokenLifetime.Std()))
	cfg.Auth.AuthorizationCodeLifetime = Duration(getEnvDuration("OAUTHD_AUTH_CODE_LIFETIME", cfg.Auth.AuthorizationCodeLifetime.Std()))

	// Rate limiting
	cfg.RateLimit.Enabled = getEnvBool("OAUTHD_RATE_LIMIT_ENABLED", cfg.RateLimit.Enabled)
	if rpm := getEnvInt("OAUTHD_RATE_LIMIT_RPM", 0); rpm > 0 {
		cfg.RateLimit.RequestsPerMinute = rpm
	}
	if burst := getEnvInt("OAUTHD_RATE_LIMIT_BURST", 0); burst > 0 {
		cfg.RateLimit.Burst = burst
	}

	// Observability
	cfg.Observability.LogLevel = getEnv("OAUTHD_LOG_LEVEL", cfg.Observability.LogLevel)
	cfg.Observability.MetricsEnabled = getEnvBool("OAUTHD_METRICS_ENABLED", cfg.Observability.MetricsEnabled)
	cfg.Observability.OTelEnabled = getEnvBool("OAUTHD_OTEL_ENABLED", cfg.Observability.OTelEnabled)
	cfg.Observability.OTelEndpoint = getEnv("OAUTHD_OTEL_ENDPOINT", cfg.Observability.OTelEndpoint)
	cfg.Observability.OTelServiceName = getEnv("OAUTHD_OTEL_SERVICE_NAME", cfg.Observability.OTelServiceName)
	cfg.Observability.OTelServiceVersion = getEnv("OAUTHD_OTEL_SERVICE_VERSION", cfg.Observability.OTelServiceVersion)
	cfg.Observability.OTelInsecure = getEnvBool("OAUTHD_OTEL_INSECURE", cfg.Observability.OTelInsecure)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	switch c.Storage.Type {
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required for sqlite storage")
		}
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s (must be sqlite or postgres)", c.Storage.Type)
	}

	if c.Storage.CacheEnabled && c.Storage.RedisURL == "" {
		return fmt.Errorf("redis URL is required when the token cache is enabled")
	}

	if c.Auth.AccessTokenLifetime <= 0 {
		return fmt.Errorf("access token lifetime must be positive")
	}
	if c.Auth.RefreshTokenLifetime <= 0 {
		return fmt.Errorf("refresh token lifetime must be positive")
	}
	if c.Auth.AuthorizationCodeLifetime <= 0 {
		return fmt.Errorf("authorization code lifetime must be positive")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// ParsedLogLevel parses the configured log level
func (c *ObservabilityConfig) ParsedLogLevel() observability.LogLevel {
	return observability.ParseLogLevel(c.LogLevel)
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
