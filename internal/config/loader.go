package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies RESERVOIR_* environment variable overrides, and
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

// applyEnvOverrides reads well-known RESERVOIR_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "RESERVOIR_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "RESERVOIR_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "RESERVOIR_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "RESERVOIR_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "RESERVOIR_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "RESERVOIR_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "RESERVOIR_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "RESERVOIR_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "RESERVOIR_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "RESERVOIR_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "RESERVOIR_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "RESERVOIR_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "RESERVOIR_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "RESERVOIR_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "RESERVOIR_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "RESERVOIR_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.ValuationTTL, "RESERVOIR_REDIS_VALUATION_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "RESERVOIR_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "RESERVOIR_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "RESERVOIR_S3_REGION")
	setStr(&cfg.S3.Bucket, "RESERVOIR_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "RESERVOIR_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "RESERVOIR_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "RESERVOIR_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "RESERVOIR_S3_FORCE_PATH_STYLE")

	// ── Venue ──
	setStr(&cfg.Venue.BaseURL, "RESERVOIR_VENUE_BASE_URL")
	setStr(&cfg.Venue.WsURL, "RESERVOIR_VENUE_WS_URL")
	setStr(&cfg.Venue.APIKey, "RESERVOIR_VENUE_API_KEY")
	setStr(&cfg.Venue.APISecret, "RESERVOIR_VENUE_API_SECRET")
	setStr(&cfg.Venue.EncryptedSecretPath, "RESERVOIR_VENUE_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Venue.SecretPassword, "RESERVOIR_VENUE_SECRET_PASSWORD")
	setBool(&cfg.Venue.StreamValuations, "RESERVOIR_VENUE_STREAM_VALUATIONS")

	// ── Policy ──
	setStr(&cfg.Policy.BaseURL, "RESERVOIR_POLICY_BASE_URL")
	setStr(&cfg.Policy.APIKey, "RESERVOIR_POLICY_API_KEY")
	setStr(&cfg.Policy.APISecret, "RESERVOIR_POLICY_API_SECRET")
	setStr(&cfg.Policy.EncryptedSecretPath, "RESERVOIR_POLICY_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Policy.SecretPassword, "RESERVOIR_POLICY_SECRET_PASSWORD")
	setDuration(&cfg.Policy.CacheTTL, "RESERVOIR_POLICY_CACHE_TTL")

	// ── Engine ──
	setInt(&cfg.Engine.AssetDecimals, "RESERVOIR_ENGINE_ASSET_DECIMALS")
	setStr(&cfg.Engine.DustFloor, "RESERVOIR_ENGINE_DUST_FLOOR")
	setStr(&cfg.Engine.MinSafeBucketUnits, "RESERVOIR_ENGINE_MIN_SAFE_BUCKET_UNITS")
	setStr(&cfg.Engine.FeeSink, "RESERVOIR_ENGINE_FEE_SINK")

	// ── Keeper ──
	setBool(&cfg.Keeper.Enabled, "RESERVOIR_KEEPER_ENABLED")
	setStr(&cfg.Keeper.Identity, "RESERVOIR_KEEPER_IDENTITY")
	setDuration(&cfg.Keeper.Interval, "RESERVOIR_KEEPER_INTERVAL")
	setDuration(&cfg.Keeper.LockTTL, "RESERVOIR_KEEPER_LOCK_TTL")
	setUint32(&cfg.Keeper.TargetBucket, "RESERVOIR_KEEPER_TARGET_BUCKET")
	setUint32(&cfg.Keeper.ToleranceBps, "RESERVOIR_KEEPER_TOLERANCE_BPS")
	setDuration(&cfg.Keeper.ArchiveAge, "RESERVOIR_KEEPER_ARCHIVE_AGE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "RESERVOIR_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "RESERVOIR_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "RESERVOIR_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "RESERVOIR_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "RESERVOIR_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "RESERVOIR_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "RESERVOIR_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "RESERVOIR_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "RESERVOIR_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "RESERVOIR_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "RESERVOIR_MODE")
	setStr(&cfg.LogLevel, "RESERVOIR_LOG_LEVEL")
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

func setUint32(dst *uint32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			*dst = uint32(n)
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

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
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
