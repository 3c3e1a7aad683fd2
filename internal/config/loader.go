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
// built-in defaults, applies MEVU_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known MEVU_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Log ──
	setStr(&cfg.Log.Level, "MEVU_LOG_LEVEL")
	setStr(&cfg.Log.Format, "MEVU_LOG_FORMAT")
	setStr(&cfg.Log.File, "MEVU_LOG_FILE")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "MEVU_REDIS_ADDR")
	setStr(&cfg.Redis.Addr, "MEVU_REDIS_URL") // compatibility alias
	setStr(&cfg.Redis.Password, "MEVU_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MEVU_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "MEVU_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "MEVU_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "MEVU_REDIS_TLS_ENABLED")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "MEVU_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "MEVU_DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "MEVU_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "MEVU_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "MEVU_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "MEVU_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "MEVU_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "MEVU_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "MEVU_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "MEVU_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "MEVU_POSTGRES_RUN_MIGRATIONS")

	// ── Feed ──
	setBool(&cfg.Feed.Enabled, "MEVU_FEED_ENABLED")
	setStr(&cfg.Feed.WSURL, "MEVU_FEED_WS_URL")
	setStr(&cfg.Feed.APIKeyID, "MEVU_FEED_API_KEY_ID")
	setStr(&cfg.Feed.PrivateKeyPEM, "MEVU_FEED_PRIVATE_KEY_PEM")
	setStr(&cfg.Feed.PrivateKeyFile, "MEVU_FEED_PRIVATE_KEY_FILE")
	setStr(&cfg.Feed.EncryptedKeyPath, "MEVU_FEED_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Feed.KeyPassphrase, "MEVU_FEED_KEY_PASSPHRASE")
	setDuration(&cfg.Feed.BackoffMin, "MEVU_FEED_BACKOFF_MIN")
	setDuration(&cfg.Feed.BackoffMax, "MEVU_FEED_BACKOFF_MAX")

	// ── Election ──
	setStr(&cfg.Election.LockKey, "MEVU_ELECTION_LOCK_KEY")
	setDuration(&cfg.Election.TTL, "MEVU_ELECTION_TTL")
	setDuration(&cfg.Election.RenewBefore, "MEVU_ELECTION_RENEW_BEFORE")

	// ── Bus ──
	setDuration(&cfg.Bus.BatchWindow, "MEVU_BUS_BATCH_WINDOW")
	setDuration(&cfg.Bus.ProbeInterval, "MEVU_BUS_PROBE_INTERVAL")

	// ── Batch ──
	setDuration(&cfg.Batch.FlushInterval, "MEVU_BATCH_FLUSH_INTERVAL")
	setInt(&cfg.Batch.MaxPending, "MEVU_BATCH_MAX_PENDING")

	// ── Mapper ──
	setDuration(&cfg.Mapper.RefreshInterval, "MEVU_MAPPER_REFRESH_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "MEVU_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "MEVU_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "MEVU_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.AuthToken, "MEVU_SERVER_AUTH_TOKEN")
	setInt(&cfg.Server.RateLimitPerMin, "MEVU_SERVER_RATE_LIMIT_PER_MIN")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "MEVU_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Endpoint, "MEVU_ARCHIVE_ENDPOINT")
	setStr(&cfg.Archive.Region, "MEVU_ARCHIVE_REGION")
	setStr(&cfg.Archive.Bucket, "MEVU_ARCHIVE_BUCKET")
	setStr(&cfg.Archive.Prefix, "MEVU_ARCHIVE_PREFIX")
	setStr(&cfg.Archive.AccessKey, "MEVU_ARCHIVE_ACCESS_KEY")
	setStr(&cfg.Archive.SecretKey, "MEVU_ARCHIVE_SECRET_KEY")
	setBool(&cfg.Archive.ForcePathStyle, "MEVU_ARCHIVE_FORCE_PATH_STYLE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "MEVU_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "MEVU_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "MEVU_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "MEVU_NOTIFY_EVENTS")
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
