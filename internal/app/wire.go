package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	s3blob "github.com/tidewater-labs/reservoir/internal/blob/s3"
	"github.com/tidewater-labs/reservoir/internal/cache/redis"
	"github.com/tidewater-labs/reservoir/internal/config"
	"github.com/tidewater-labs/reservoir/internal/crypto"
	"github.com/tidewater-labs/reservoir/internal/domain"
	"github.com/tidewater-labs/reservoir/internal/notify"
	"github.com/tidewater-labs/reservoir/internal/platform/policy"
	"github.com/tidewater-labs/reservoir/internal/platform/venue"
	"github.com/tidewater-labs/reservoir/internal/service"
	"github.com/tidewater-labs/reservoir/internal/store/postgres"
	"github.com/tidewater-labs/reservoir/internal/vault"

	"github.com/ethereum/go-ethereum/common"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	SnapshotStore domain.SnapshotStore
	JournalStore  domain.JournalStore

	// Caches
	ValuationCache domain.ValuationCache
	RateLimiter    domain.RateLimiter
	LockManager    domain.LockManager

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// External collaborators
	Venue  *venue.Client
	Policy *policy.Client

	// Core
	Engine  *vault.Engine
	Service *service.VaultService

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

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
	deps.SnapshotStore = postgres.NewSnapshotStore(pool)
	journalStore := postgres.NewJournalStore(pool)
	deps.JournalStore = journalStore

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

	deps.ValuationCache = redis.NewValuationCache(redisClient, cfg.Redis.ValuationTTL.Duration)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)

	// --- S3 blob storage (journal archive) ---
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

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewJournalArchiver(deps.BlobWriter, journalStore)
	}

	// --- Venue client ---
	venueAuth, err := hmacAuth(cfg.Venue.APIKey, crypto.SecretConfig{
		RawSecret:           cfg.Venue.APISecret,
		EncryptedSecretPath: cfg.Venue.EncryptedSecretPath,
		Password:            cfg.Venue.SecretPassword,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: venue credentials: %w", err)
	}
	deps.Venue = venue.NewClient(cfg.Venue.BaseURL, venueAuth)

	// --- Policy client ---
	policyAuth, err := hmacAuth(cfg.Policy.APIKey, crypto.SecretConfig{
		RawSecret:           cfg.Policy.APISecret,
		EncryptedSecretPath: cfg.Policy.EncryptedSecretPath,
		Password:            cfg.Policy.SecretPassword,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: policy credentials: %w", err)
	}
	deps.Policy = policy.NewClient(cfg.Policy.BaseURL, policyAuth, cfg.Policy.CacheTTL.Duration)

	// --- Vault engine ---
	engineCfg := vault.Config{
		AssetDecimals:      uint8(cfg.Engine.AssetDecimals),
		DustFloor:          cfg.Engine.DustFloorBig(),
		MinSafeBucketUnits: cfg.Engine.MinSafeBucketUnitsBig(),
		FeeSink:            common.HexToAddress(cfg.Engine.FeeSink),
	}
	deps.Engine, err = restoreEngine(ctx, engineCfg, deps)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: restore engine: %w", err)
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

	// --- Vault service ---
	deps.Service = service.NewVaultService(
		deps.Engine,
		deps.JournalStore,
		deps.SnapshotStore,
		deps.ValuationCache,
		deps.Venue,
		deps.Notifier,
		logger,
	)

	return deps, cleanup, nil
}

// restoreEngine rebuilds the engine from the latest persisted snapshot, or
// starts empty when no snapshot exists yet.
func restoreEngine(ctx context.Context, engineCfg vault.Config, deps *Dependencies) (*vault.Engine, error) {
	snap, err := deps.SnapshotStore.Latest(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return vault.New(engineCfg, deps.Venue, deps.Policy), nil
		}
		return nil, err
	}
	return vault.RestoreFrom(engineCfg, deps.Venue, deps.Policy, snap), nil
}

// hmacAuth resolves an API secret (raw or encrypted file) into HMAC
// credentials.
func hmacAuth(apiKey string, secretCfg crypto.SecretConfig) (*crypto.HMACAuth, error) {
	secret, err := crypto.LoadSecret(secretCfg)
	if err != nil {
		return nil, err
	}
	return &crypto.HMACAuth{Key: apiKey, Secret: secret}, nil
}
