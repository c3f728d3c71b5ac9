package storage

import "time"

// Config for storage backend
type Config struct {
	Type string `yaml:"type"` // "sqlite" or "postgres"

	// SQLite config
	SQLitePath string `yaml:"sqlite_path"`

	// PostgreSQL config
	PostgresURL      string `yaml:"postgres_url"`
	PostgresMaxConns int    `yaml:"postgres_max_conns"`
	PostgresMinConns int    `yaml:"postgres_min_conns"`
	// Set via OAUTHD_POSTGRES_TIMEOUT; durations do not round-trip YAML
	PostgresTimeout time.Duration `yaml:"-"`

	// Redis token cache config
	RedisURL        string `yaml:"redis_url"`
	RedisPassword   string `yaml:"redis_password"`
	RedisDB         int    `yaml:"redis_db"`
	RedisMaxRetries int    `yaml:"redis_max_retries"`
	RedisPoolSize   int    `yaml:"redis_pool_size"`
	CacheEnabled    bool   `yaml:"cache_enabled"`

	// In-process client cache
	ClientCacheSize int `yaml:"client_cache_size"`

	// Cleanup sweeper schedule (cron spec)
	CleanupSchedule string `yaml:"cleanup_schedule"`
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Type:             "sqlite",
		SQLitePath:       "oauthd.db",
		PostgresMaxConns: 20,
		PostgresMinConns: 2,
		PostgresTimeout:  10 * time.Second,
		RedisDB:          0,
		RedisMaxRetries:  3,
		RedisPoolSize:    10,
		CacheEnabled:     false,
		ClientCacheSize:  1024,
		CleanupSchedule:  "@every 5m",
	}
}
