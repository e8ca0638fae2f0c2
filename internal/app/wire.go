package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/quantstream/tickalert/internal/blob/s3"
	"github.com/quantstream/tickalert/internal/cache/redis"
	"github.com/quantstream/tickalert/internal/config"
	"github.com/quantstream/tickalert/internal/domain"
	"github.com/quantstream/tickalert/internal/notify"
	"github.com/quantstream/tickalert/internal/pipeline"
	"github.com/quantstream/tickalert/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency the pipeline needs. It
// is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	TickStore       domain.TickStore
	InstrumentStore domain.InstrumentStore
	RuleStore       domain.RuleStore
	AlertStore      domain.AlertStore

	// Caches
	PriceHistory domain.PriceHistory

	// Cold storage (nil unless archiving is enabled)
	BlobWriter domain.BlobWriter
	Archiver   pipeline.BlobArchiver

	// Notifications
	Notifier *notify.Notifier

	// Shared pipeline counters
	Stats *domain.PipelineStats
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Stats: &domain.PipelineStats{}}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.TickStore = postgres.NewTickStore(pool)
	deps.InstrumentStore = postgres.NewInstrumentStore(pool)
	deps.RuleStore = postgres.NewRuleStore(pool)
	deps.AlertStore = postgres.NewAlertStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	historyMaxAge := time.Duration(cfg.Redis.HistoryMaxAgeS) * time.Second
	deps.PriceHistory = redis.NewPriceHistory(redisClient, historyMaxAge)

	// --- S3 cold storage (only when the retention job is enabled) ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.TickStore, deps.AlertStore, logger)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.WebhookURL != "" {
		senders = append(senders, notify.NewWebhookSender(cfg.Notify.WebhookURL))
	}
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	deps.Notifier = notify.NewNotifier(senders, logger)

	return deps, cleanup, nil
}
