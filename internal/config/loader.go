package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of
// the built-in defaults, applies CRYPTOTRADER_* environment variable
// overrides, and returns the final Config. The returned Config has NOT
// been validated; the caller should invoke Config.Validate() after
// Load.
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

// applyEnvOverrides reads well-known CRYPTOTRADER_* environment
// variables and overwrites the corresponding Config fields when a
// variable is set. This lets operators inject secrets at deploy time
// without touching the TOML file. Per-exchange variables embed the
// upper-cased exchange name, e.g. CRYPTOTRADER_BITFINEX_API_KEY.
func applyEnvOverrides(cfg *Config) {
	for name, ex := range cfg.Exchanges {
		prefix := "CRYPTOTRADER_" + strings.ToUpper(name) + "_"
		setBool(&ex.Enabled, prefix+"ENABLED")
		setStr(&ex.WSURL, prefix+"WS_URL")
		setStr(&ex.RESTURL, prefix+"REST_URL")
		setStr(&ex.APIKey, prefix+"API_KEY")
		setStr(&ex.APISecret, prefix+"API_SECRET")
		setStr(&ex.EncryptedSecretPath, prefix+"ENCRYPTED_SECRET_PATH")
		setStr(&ex.SecretPassword, prefix+"SECRET_PASSWORD")
		setStringSlice(&ex.Pairs, prefix+"PAIRS")
		setDuration(&ex.ReconnectBackoff, prefix+"RECONNECT_BACKOFF")
		setDuration(&ex.PollInterval, prefix+"POLL_INTERVAL")
		setDuration(&ex.LivenessThreshold, prefix+"LIVENESS_THRESHOLD")
		setBool(&ex.StrictSequence, prefix+"STRICT_SEQUENCE")
		setFloat64(&ex.FeeRate, prefix+"FEE_RATE")
		setDuration(&ex.FeeGrace, prefix+"FEE_GRACE")
		cfg.Exchanges[name] = ex
	}

	setBool(&cfg.Postgres.Enabled, "CRYPTOTRADER_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "CRYPTOTRADER_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "CRYPTOTRADER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "CRYPTOTRADER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "CRYPTOTRADER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "CRYPTOTRADER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "CRYPTOTRADER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "CRYPTOTRADER_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "CRYPTOTRADER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "CRYPTOTRADER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "CRYPTOTRADER_POSTGRES_RUN_MIGRATIONS")

	setBool(&cfg.Redis.Enabled, "CRYPTOTRADER_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "CRYPTOTRADER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CRYPTOTRADER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CRYPTOTRADER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CRYPTOTRADER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "CRYPTOTRADER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "CRYPTOTRADER_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.Prefix, "CRYPTOTRADER_REDIS_PREFIX")

	setBool(&cfg.S3.Enabled, "CRYPTOTRADER_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "CRYPTOTRADER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CRYPTOTRADER_S3_REGION")
	setStr(&cfg.S3.Bucket, "CRYPTOTRADER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "CRYPTOTRADER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CRYPTOTRADER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "CRYPTOTRADER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "CRYPTOTRADER_S3_FORCE_PATH_STYLE")

	setDuration(&cfg.Archive.Interval, "CRYPTOTRADER_ARCHIVE_INTERVAL")

	setStr(&cfg.Notify.TelegramToken, "CRYPTOTRADER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "CRYPTOTRADER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "CRYPTOTRADER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "CRYPTOTRADER_NOTIFY_EVENTS")

	setStr(&cfg.LogLevel, "CRYPTOTRADER_LOG_LEVEL")
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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
