package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies TICKALERT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known TICKALERT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "TICKALERT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "TICKALERT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TICKALERT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TICKALERT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TICKALERT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TICKALERT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "TICKALERT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "TICKALERT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "TICKALERT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "TICKALERT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "TICKALERT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TICKALERT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TICKALERT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TICKALERT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "TICKALERT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "TICKALERT_REDIS_TLS_ENABLED")
	setInt(&cfg.Redis.HistoryMaxAgeS, "TICKALERT_REDIS_HISTORY_MAX_AGE_SECONDS")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "TICKALERT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TICKALERT_S3_REGION")
	setStr(&cfg.S3.Bucket, "TICKALERT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "TICKALERT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TICKALERT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "TICKALERT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "TICKALERT_S3_FORCE_PATH_STYLE")

	// ── Ingest ──
	setInt(&cfg.Ingest.QueueCapacity, "TICKALERT_INGEST_QUEUE_CAPACITY")
	setInt(&cfg.Ingest.BatchMaxSize, "TICKALERT_INGEST_BATCH_MAX_SIZE")
	setInt(&cfg.Ingest.BatchMaxWaitMs, "TICKALERT_INGEST_BATCH_MAX_WAIT_MS")

	// ── Engine ──
	setInt(&cfg.Engine.QueueCapacity, "TICKALERT_ENGINE_QUEUE_CAPACITY")
	setInt(&cfg.Engine.BatchMaxSize, "TICKALERT_ENGINE_BATCH_MAX_SIZE")
	setInt(&cfg.Engine.BatchMaxWaitMs, "TICKALERT_ENGINE_BATCH_MAX_WAIT_MS")
	setInt(&cfg.Engine.RuleCacheTTLSec, "TICKALERT_ENGINE_RULE_CACHE_TTL_SECONDS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "TICKALERT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "TICKALERT_SERVER_PORT")
	setInt(&cfg.Server.MaxConnections, "TICKALERT_SERVER_MAX_CONNECTIONS")
	setStringSlice(&cfg.Server.CORSOrigins, "TICKALERT_SERVER_CORS_ORIGINS")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "TICKALERT_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "TICKALERT_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "TICKALERT_ARCHIVE_CRON")

	// ── Feed ──
	setInt(&cfg.Feed.SimIntervalMs, "TICKALERT_FEED_SIM_INTERVAL_MS")
	setStringSlice(&cfg.Feed.SimSymbols, "TICKALERT_FEED_SIM_SYMBOLS")

	// ── Notify ──
	setStr(&cfg.Notify.WebhookURL, "TICKALERT_NOTIFY_WEBHOOK_URL")
	setStr(&cfg.Notify.TelegramToken, "TICKALERT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TICKALERT_NOTIFY_TELEGRAM_CHAT_ID")

	// ── Top-level ──
	setStr(&cfg.Mode, "TICKALERT_MODE")
	setStr(&cfg.LogLevel, "TICKALERT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
