package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/mbehr1/cryptotrader/internal/blob/s3"
	"github.com/mbehr1/cryptotrader/internal/config"
	"github.com/mbehr1/cryptotrader/internal/domain"
	"github.com/mbehr1/cryptotrader/internal/notify"
	"github.com/mbehr1/cryptotrader/internal/settings/mem"
	"github.com/mbehr1/cryptotrader/internal/settings/redis"
	"github.com/mbehr1/cryptotrader/internal/store/postgres"
)

// Dependencies bundles the shared infrastructure every exchange
// runtime uses. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Settings is the key-value store for pending orders and client id
	// counters: Redis when enabled, otherwise in-memory.
	Settings domain.Settings

	// History archives order completions; nil when Postgres is
	// disabled.
	History *postgres.HistoryStore

	// Archiver uploads trade-ledger snapshots; nil when S3 is
	// disabled.
	Archiver *s3blob.Archiver

	Notifier *notify.Notifier
}

// Wire constructs the concrete infrastructure implementations from the
// given configuration and returns them together with a cleanup
// function to be called on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Settings store ---
	if cfg.Redis.Enabled {
		store, err := redis.New(ctx, redis.Config{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			Prefix:     cfg.Redis.Prefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = store.Close() })
		deps.Settings = store
	} else {
		logger.Warn("redis disabled, persisted state will not survive a restart")
		deps.Settings = mem.New()
	}

	// --- PostgreSQL order history ---
	if cfg.Postgres.Enabled {
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
		deps.History = postgres.NewHistoryStore(pgClient.Pool())
	}

	// --- S3 trade archive ---
	if cfg.S3.Enabled {
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
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), s3blob.NewReader(s3Client))
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
