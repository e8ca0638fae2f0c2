// Package config defines the top-level configuration for the tickalert
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by TICKALERT_* environment
// variables.
type Config struct {
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Ingest   IngestConfig   `toml:"ingest"`
	Engine   EngineConfig   `toml:"engine"`
	Server   ServerConfig   `toml:"server"`
	Archive  ArchiveConfig  `toml:"archive"`
	Feed     FeedConfig     `toml:"feed"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters for the price history cache.
type RedisConfig struct {
	Addr           string `toml:"addr"`
	Password       string `toml:"password"`
	DB             int    `toml:"db"`
	PoolSize       int    `toml:"pool_size"`
	MaxRetries     int    `toml:"max_retries"`
	TLSEnabled     bool   `toml:"tls_enabled"`
	HistoryMaxAgeS int    `toml:"history_max_age_seconds"`
}

// S3Config holds S3-compatible object storage parameters for the archiver.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// IngestConfig bounds the ingestion queue and batch writer.
type IngestConfig struct {
	QueueCapacity  int `toml:"queue_capacity"`
	BatchMaxSize   int `toml:"batch_max_size"`
	BatchMaxWaitMs int `toml:"batch_max_wait_ms"`
}

// EngineConfig bounds the alert engine's evaluation queue, batching, and the
// rule cache refresh interval.
type EngineConfig struct {
	QueueCapacity   int `toml:"queue_capacity"`
	BatchMaxSize    int `toml:"batch_max_size"`
	BatchMaxWaitMs  int `toml:"batch_max_wait_ms"`
	RuleCacheTTLSec int `toml:"rule_cache_ttl_seconds"`
}

// ServerConfig holds HTTP/WebSocket server parameters.
type ServerConfig struct {
	Enabled        bool     `toml:"enabled"`
	Port           int      `toml:"port"`
	MaxConnections int      `toml:"max_connections"`
	CORSOrigins    []string `toml:"cors_origins"`
}

// ArchiveConfig controls the cold-storage archiver.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
}

// FeedConfig controls the simulated feed used in sim mode.
type FeedConfig struct {
	SimIntervalMs int      `toml:"sim_interval_ms"`
	SimSymbols    []string `toml:"sim_symbols"`
}

// NotifyConfig configures the optional delivery channels. A channel is
// enabled when its credentials are non-empty; with no channels configured,
// fired alerts stay at delivery status "pending".
type NotifyConfig struct {
	WebhookURL     string `toml:"webhook_url"`
	TelegramToken  string `toml:"telegram_token"`
	TelegramChatID string `toml:"telegram_chat_id"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "tickalert",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:           "localhost:6379",
			DB:             0,
			PoolSize:       20,
			MaxRetries:     3,
			HistoryMaxAgeS: 3600,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "tickalert-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Ingest: IngestConfig{
			QueueCapacity:  1000,
			BatchMaxSize:   100,
			BatchMaxWaitMs: 1000,
		},
		Engine: EngineConfig{
			QueueCapacity:   1000,
			BatchMaxSize:    100,
			BatchMaxWaitMs:  1000,
			RuleCacheTTLSec: 60,
		},
		Server: ServerConfig{
			Enabled:        true,
			Port:           8080,
			MaxConnections: 256,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 30,
			Cron:          "0 3 * * *",
		},
		Feed: FeedConfig{
			SimIntervalMs: 100,
			SimSymbols:    []string{"ES", "NQ", "CL"},
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve": true,
	"sim":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, sim)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.Ingest.QueueCapacity < 1 {
		errs = append(errs, "ingest: queue_capacity must be >= 1")
	}
	if c.Ingest.BatchMaxSize < 1 {
		errs = append(errs, "ingest: batch_max_size must be >= 1")
	}
	if c.Ingest.BatchMaxWaitMs < 1 {
		errs = append(errs, "ingest: batch_max_wait_ms must be >= 1")
	}

	if c.Engine.QueueCapacity < 1 {
		errs = append(errs, "engine: queue_capacity must be >= 1")
	}
	if c.Engine.BatchMaxSize < 1 {
		errs = append(errs, "engine: batch_max_size must be >= 1")
	}
	if c.Engine.BatchMaxWaitMs < 1 {
		errs = append(errs, "engine: batch_max_wait_ms must be >= 1")
	}
	if c.Engine.RuleCacheTTLSec < 1 {
		errs = append(errs, "engine: rule_cache_ttl_seconds must be >= 1")
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.MaxConnections < 1 {
			errs = append(errs, "server: max_connections must be >= 1")
		}
	}

	if c.Archive.Enabled {
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1 when enabled")
		}
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archiving is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archiving is enabled")
		}
	}

	if strings.ToLower(c.Mode) == "sim" {
		if c.Feed.SimIntervalMs < 1 {
			errs = append(errs, "feed: sim_interval_ms must be >= 1")
		}
		if len(c.Feed.SimSymbols) == 0 {
			errs = append(errs, "feed: sim_symbols must not be empty in sim mode")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
