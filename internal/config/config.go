// Package config defines the top-level configuration for the price feed
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by MEVU_* environment variables.
type Config struct {
	Log      LogConfig      `toml:"log"`
	Redis    RedisConfig    `toml:"redis"`
	Postgres PostgresConfig `toml:"postgres"`
	Feed     FeedConfig     `toml:"feed"`
	Election ElectionConfig `toml:"election"`
	Bus      BusConfig      `toml:"bus"`
	Batch    BatchConfig    `toml:"batch"`
	Mapper   MapperConfig   `toml:"mapper"`
	Server   ServerConfig   `toml:"server"`
	Archive  ArchiveConfig  `toml:"archive"`
	Notify   NotifyConfig   `toml:"notify"`
}

// LogConfig holds logging parameters.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	// File enables rotated file output alongside stdout when set.
	File string `toml:"file"`
}

// RedisConfig holds coordination-store connection parameters. An empty Addr
// disables clustering entirely: the bus stays off and every process assumes
// the leader role.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// Enabled reports whether a coordination store is configured.
func (r RedisConfig) Enabled() bool { return strings.TrimSpace(r.Addr) != "" }

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

// FeedConfig holds upstream exchange feed parameters. Exactly one key source
// must be set: a raw PEM string, a PEM file path, or an encrypted key file
// plus passphrase.
type FeedConfig struct {
	Enabled          bool     `toml:"enabled"`
	WSURL            string   `toml:"ws_url"`
	APIKeyID         string   `toml:"api_key_id"`
	PrivateKeyPEM    string   `toml:"private_key_pem"`
	PrivateKeyFile   string   `toml:"private_key_file"`
	EncryptedKeyPath string   `toml:"encrypted_key_path"`
	KeyPassphrase    string   `toml:"key_passphrase"`
	BackoffMin       duration `toml:"backoff_min"`
	BackoffMax       duration `toml:"backoff_max"`
}

// ElectionConfig holds leader election parameters. RenewBefore is how long
// before lease expiry the renewal fires; it must be shorter than TTL.
type ElectionConfig struct {
	LockKey     string   `toml:"lock_key"`
	TTL         duration `toml:"ttl"`
	RenewBefore duration `toml:"renew_before"`
}

// BusConfig holds broadcast bus parameters.
type BusConfig struct {
	// BatchWindow is the micro-batch flush delay for high-frequency channels.
	BatchWindow duration `toml:"batch_window"`
	// ProbeInterval is how often the readiness probe pings the store.
	ProbeInterval duration `toml:"probe_interval"`
}

// BatchConfig holds storage flush scheduling parameters.
type BatchConfig struct {
	FlushInterval duration `toml:"flush_interval"`
	// MaxPending is the hard queue ceiling that forces an immediate flush.
	MaxPending int `toml:"max_pending"`
}

// MapperConfig holds ticker mapping refresh parameters.
type MapperConfig struct {
	RefreshInterval duration `toml:"refresh_interval"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// AuthToken protects /api/ routes when non-empty.
	AuthToken string `toml:"auth_token"`
	// RateLimitPerMin caps requests per client IP per minute; 0 disables.
	RateLimitPerMin int `toml:"rate_limit_per_min"`
}

// ArchiveConfig holds S3-compatible batch archival parameters.
type ArchiveConfig struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
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
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Redis: RedisConfig{
			Addr:       "",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Postgres: PostgresConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "mevu",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Feed: FeedConfig{
			Enabled:    true,
			WSURL:      "wss://api.elections.kalshi.com/trade-api/ws/v2",
			BackoffMin: duration{2 * time.Second},
			BackoffMax: duration{60 * time.Second},
		},
		Election: ElectionConfig{
			LockKey:     "mevufeed:leader",
			TTL:         duration{30 * time.Second},
			RenewBefore: duration{5 * time.Second},
		},
		Bus: BusConfig{
			BatchWindow:   duration{50 * time.Millisecond},
			ProbeInterval: duration{5 * time.Second},
		},
		Batch: BatchConfig{
			FlushInterval: duration{1 * time.Second},
			MaxPending:    200,
		},
		Mapper: MapperConfig{
			RefreshInterval: duration{5 * time.Minute},
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimitPerMin: 0,
		},
		Archive: ArchiveConfig{
			Enabled:        false,
			Region:         "us-east-1",
			Prefix:         "prices",
			ForcePathStyle: true,
		},
		Notify: NotifyConfig{
			Events: []string{"leader_elected", "leader_lost", "flush_failed", "feed_disconnected"},
		},
	}
}

// validLogLevels enumerates the accepted values for LogConfig.Level.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validLogFormats enumerates the accepted values for LogConfig.Format.
var validLogFormats = map[string]bool{
	"json": true,
	"text": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Log
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Sprintf("log: unknown level %q (valid: debug, info, warn, error)", c.Log.Level))
	}
	if !validLogFormats[strings.ToLower(c.Log.Format)] {
		errs = append(errs, fmt.Sprintf("log: unknown format %q (valid: json, text)", c.Log.Format))
	}

	// Redis — optional; when absent the process runs unclustered.
	if c.Redis.Enabled() {
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
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

	// Feed — credentials only matter when ingestion is enabled.
	if c.Feed.Enabled {
		if c.Feed.WSURL == "" {
			errs = append(errs, "feed: ws_url must not be empty")
		}
		if c.Feed.APIKeyID == "" {
			errs = append(errs, "feed: api_key_id is required when feed is enabled")
		}
		if c.Feed.PrivateKeyPEM == "" && c.Feed.PrivateKeyFile == "" && c.Feed.EncryptedKeyPath == "" {
			errs = append(errs, "feed: one of private_key_pem, private_key_file, encrypted_key_path must be set")
		}
		if c.Feed.EncryptedKeyPath != "" && c.Feed.KeyPassphrase == "" {
			errs = append(errs, "feed: key_passphrase is required when encrypted_key_path is set")
		}
		if c.Feed.BackoffMin.Duration <= 0 || c.Feed.BackoffMax.Duration < c.Feed.BackoffMin.Duration {
			errs = append(errs, "feed: backoff_min must be > 0 and backoff_max >= backoff_min")
		}
	}

	// Election
	if c.Election.LockKey == "" {
		errs = append(errs, "election: lock_key must not be empty")
	}
	if c.Election.TTL.Duration <= 0 {
		errs = append(errs, "election: ttl must be > 0")
	}
	if c.Election.RenewBefore.Duration <= 0 || c.Election.RenewBefore.Duration >= c.Election.TTL.Duration {
		errs = append(errs, "election: renew_before must be > 0 and shorter than ttl")
	}

	// Bus
	if c.Bus.BatchWindow.Duration <= 0 {
		errs = append(errs, "bus: batch_window must be > 0")
	}
	if c.Bus.ProbeInterval.Duration <= 0 {
		errs = append(errs, "bus: probe_interval must be > 0")
	}

	// Batch
	if c.Batch.FlushInterval.Duration <= 0 {
		errs = append(errs, "batch: flush_interval must be > 0")
	}
	if c.Batch.MaxPending < 1 {
		errs = append(errs, "batch: max_pending must be >= 1")
	}

	// Mapper
	if c.Mapper.RefreshInterval.Duration <= 0 {
		errs = append(errs, "mapper: refresh_interval must be > 0")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimitPerMin < 0 {
			errs = append(errs, "server: rate_limit_per_min must be >= 0")
		}
	}

	// Archive
	if c.Archive.Enabled {
		if c.Archive.Bucket == "" {
			errs = append(errs, "archive: bucket must not be empty when enabled")
		}
		if c.Archive.Region == "" {
			errs = append(errs, "archive: region must not be empty when enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
