// Package config defines the top-level configuration for the reservoir
// daemon and provides validation helpers.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by RESERVOIR_* environment variables.
type Config struct {
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Venue    VenueConfig    `toml:"venue"`
	Policy   PolicyConfig   `toml:"policy"`
	Engine   EngineConfig   `toml:"engine"`
	Keeper   KeeperConfig   `toml:"keeper"`
	Server   ServerConfig   `toml:"server"`
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`

	// ValuationTTL bounds how stale a cached bucket valuation may be.
	ValuationTTL duration `toml:"valuation_ttl"`
}

// S3Config holds S3-compatible object storage parameters for the journal
// archive. Leave Enabled false to keep the full journal in PostgreSQL.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// VenueConfig holds the liquidity venue's API endpoints and credentials. The
// API secret may be given raw or as an encrypted file plus password.
type VenueConfig struct {
	BaseURL             string `toml:"base_url"`
	WsURL               string `toml:"ws_url"`
	APIKey              string `toml:"api_key"`
	APISecret           string `toml:"api_secret"`
	EncryptedSecretPath string `toml:"encrypted_secret_path"`
	SecretPassword      string `toml:"secret_password"`

	// StreamValuations subscribes to the venue's WebSocket valuation feed
	// and writes pushes through to the cache.
	StreamValuations bool `toml:"stream_valuations"`
}

// PolicyConfig holds the policy store's API endpoint and credentials.
type PolicyConfig struct {
	BaseURL             string   `toml:"base_url"`
	APIKey              string   `toml:"api_key"`
	APISecret           string   `toml:"api_secret"`
	EncryptedSecretPath string   `toml:"encrypted_secret_path"`
	SecretPassword      string   `toml:"secret_password"`
	CacheTTL            duration `toml:"cache_ttl"`
}

// EngineConfig holds the vault engine's immutable parameters. Big integer
// fields are decimal strings so WAD-scale values survive TOML's int64.
type EngineConfig struct {
	AssetDecimals      int    `toml:"asset_decimals"`
	DustFloor          string `toml:"dust_floor"`            // WAD
	MinSafeBucketUnits string `toml:"min_safe_bucket_units"` // WAD claim units
	FeeSink            string `toml:"fee_sink"`              // hex address
}

// KeeperConfig holds the maintenance loop parameters.
type KeeperConfig struct {
	Enabled      bool     `toml:"enabled"`
	Identity     string   `toml:"identity"` // hex address with the keeper role
	Interval     duration `toml:"interval"`
	LockTTL      duration `toml:"lock_ttl"`
	TargetBucket uint32   `toml:"target_bucket"`
	ToleranceBps uint32   `toml:"tolerance_bps"`
	ArchiveAge   duration `toml:"archive_age"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "reservoir",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			DB:           0,
			PoolSize:     20,
			MaxRetries:   3,
			TLSEnabled:   false,
			ValuationTTL: duration{5 * time.Minute},
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "reservoir-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Venue: VenueConfig{
			StreamValuations: true,
		},
		Policy: PolicyConfig{
			CacheTTL: duration{10 * time.Second},
		},
		Engine: EngineConfig{
			AssetDecimals:      6,
			DustFloor:          "1000000000000",    // 1e12, one millionth of a unit
			MinSafeBucketUnits: "1000000000000000", // 1e15
		},
		Keeper: KeeperConfig{
			Enabled:      true,
			Interval:     duration{time.Minute},
			LockTTL:      duration{5 * time.Minute},
			ToleranceBps: 50,
			ArchiveAge:   duration{90 * 24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   100,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"restricted_entered", "restricted_cleared", "reconcile_loss", "operation_failed"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve":  true,
	"keeper": true,
	"full":   true,
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

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, keeper, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Postgres
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

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 checks apply only when archiving is enabled.
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
	}

	// Venue
	if c.Venue.BaseURL == "" {
		errs = append(errs, "venue: base_url must not be empty")
	}
	if c.Venue.APIKey == "" {
		errs = append(errs, "venue: api_key must not be empty")
	}
	if c.Venue.APISecret == "" && c.Venue.EncryptedSecretPath == "" {
		errs = append(errs, "venue: either api_secret or encrypted_secret_path must be set")
	}
	if c.Venue.EncryptedSecretPath != "" && c.Venue.SecretPassword == "" {
		errs = append(errs, "venue: secret_password is required when encrypted_secret_path is set")
	}
	if c.Venue.StreamValuations && c.Venue.WsURL == "" {
		errs = append(errs, "venue: ws_url is required when stream_valuations is enabled")
	}

	// Policy
	if c.Policy.BaseURL == "" {
		errs = append(errs, "policy: base_url must not be empty")
	}
	if c.Policy.APIKey == "" {
		errs = append(errs, "policy: api_key must not be empty")
	}
	if c.Policy.APISecret == "" && c.Policy.EncryptedSecretPath == "" {
		errs = append(errs, "policy: either api_secret or encrypted_secret_path must be set")
	}
	if c.Policy.EncryptedSecretPath != "" && c.Policy.SecretPassword == "" {
		errs = append(errs, "policy: secret_password is required when encrypted_secret_path is set")
	}

	// Engine
	if c.Engine.AssetDecimals < 1 || c.Engine.AssetDecimals > 18 {
		errs = append(errs, fmt.Sprintf("engine: asset_decimals must be 1-18, got %d", c.Engine.AssetDecimals))
	}
	if _, ok := parsePositiveBig(c.Engine.DustFloor); !ok {
		errs = append(errs, fmt.Sprintf("engine: dust_floor must be a positive decimal integer, got %q", c.Engine.DustFloor))
	}
	if _, ok := parsePositiveBig(c.Engine.MinSafeBucketUnits); !ok {
		errs = append(errs, fmt.Sprintf("engine: min_safe_bucket_units must be a positive decimal integer, got %q", c.Engine.MinSafeBucketUnits))
	}
	if c.Engine.FeeSink == "" || !common.IsHexAddress(c.Engine.FeeSink) {
		errs = append(errs, fmt.Sprintf("engine: fee_sink must be a hex address, got %q", c.Engine.FeeSink))
	}

	// Keeper
	needsKeeper := c.Keeper.Enabled && (c.Mode == "keeper" || c.Mode == "full")
	if needsKeeper {
		if !common.IsHexAddress(c.Keeper.Identity) {
			errs = append(errs, fmt.Sprintf("keeper: identity must be a hex address, got %q", c.Keeper.Identity))
		}
		if c.Keeper.Interval.Duration <= 0 {
			errs = append(errs, "keeper: interval must be positive")
		}
		if c.Keeper.LockTTL.Duration <= c.Keeper.Interval.Duration {
			errs = append(errs, "keeper: lock_ttl should exceed the interval")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be positive when rate_limit is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// parsePositiveBig parses a positive decimal big integer string.
func parsePositiveBig(s string) (*big.Int, bool) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() <= 0 {
		return nil, false
	}
	return v, true
}

// DustFloorBig returns the parsed dust floor. Call Validate first.
func (c *EngineConfig) DustFloorBig() *big.Int {
	v, _ := parsePositiveBig(c.DustFloor)
	return v
}

// MinSafeBucketUnitsBig returns the parsed safety threshold. Call Validate
// first.
func (c *EngineConfig) MinSafeBucketUnitsBig() *big.Int {
	v, _ := parsePositiveBig(c.MinSafeBucketUnits)
	return v
}
