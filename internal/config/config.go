// Package config defines the top-level configuration for the trader
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from
// a TOML file and then optionally overridden by CRYPTOTRADER_*
// environment variables.
type Config struct {
	Exchanges map[string]ExchangeConfig `toml:"exchanges"`
	Postgres  PostgresConfig            `toml:"postgres"`
	Redis     RedisConfig               `toml:"redis"`
	S3        S3Config                  `toml:"s3"`
	Archive   ArchiveConfig             `toml:"archive"`
	Notify    NotifyConfig              `toml:"notify"`
	LogLevel  string                    `toml:"log_level"`
}

// ExchangeConfig holds one exchange's connection parameters and
// per-exchange reconciliation tunables. The map key in [exchanges.X]
// selects which adapter is wired; unknown names are rejected by
// Validate.
type ExchangeConfig struct {
	Enabled bool     `toml:"enabled"`
	WSURL   string   `toml:"ws_url"`
	RESTURL string   `toml:"rest_url"`
	Pairs   []string `toml:"pairs"`

	APIKey              string `toml:"api_key"`
	APISecret           string `toml:"api_secret"`
	EncryptedSecretPath string `toml:"encrypted_secret_path"`
	SecretPassword      string `toml:"secret_password"`

	ReconnectBackoff  duration `toml:"reconnect_backoff"`
	PollInterval      duration `toml:"poll_interval"`
	LivenessThreshold duration `toml:"liveness_threshold"`

	// StrictSequence forces a fresh subscription after any sequence
	// gap instead of re-baselining in place. Only meaningful for
	// sequence-numbered exchanges.
	StrictSequence bool `toml:"strict_sequence"`

	FeeRate  float64  `toml:"fee_rate"`
	FeeGrace duration `toml:"fee_grace"`
}

// PostgresConfig holds the order-history database parameters. With
// Enabled false, completions are still notified but not archived to a
// database.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
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

// RedisConfig holds the settings-store connection parameters. With
// Enabled false, an in-memory store is used instead and persisted
// state does not survive a restart.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	Prefix     string `toml:"prefix"`
}

// S3Config holds S3-compatible object storage parameters for the
// trade archive.
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

// ArchiveConfig controls the periodic trade-ledger archival job.
type ArchiveConfig struct {
	Interval duration `toml:"interval"`
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

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder
// can parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// knownExchanges enumerates the adapters this build can wire.
var knownExchanges = map[string]bool{
	"bitfinex": true,
	"bitflyer": true,
	"hitbtc":   true,
	"binance":  true,
}

// pollExchanges are the exchanges driven by the REST poll transport
// instead of a WebSocket session.
var pollExchanges = map[string]bool{
	"binance": true,
}

// PollBased reports whether the named exchange uses the poll transport.
func PollBased(name string) bool { return pollExchanges[name] }

// Defaults returns a Config populated with reasonable default values.
// Every exchange starts disabled; the TOML file or environment turns
// them on.
func Defaults() Config {
	return Config{
		Exchanges: map[string]ExchangeConfig{
			"bitfinex": {
				WSURL:             "wss://api-pub.bitfinex.com/ws/2",
				Pairs:             []string{"tBTCUSD"},
				ReconnectBackoff:  duration{5 * time.Second},
				LivenessThreshold: duration{30 * time.Second},
				FeeRate:           0.002,
				FeeGrace:          duration{10 * time.Second},
			},
			"bitflyer": {
				WSURL:             "wss://ws.lightstream.bitflyer.com/json-rpc",
				Pairs:             []string{"BTC_JPY"},
				ReconnectBackoff:  duration{5 * time.Second},
				LivenessThreshold: duration{30 * time.Second},
				FeeRate:           0.002,
				FeeGrace:          duration{10 * time.Second},
			},
			"hitbtc": {
				WSURL:             "wss://api.hitbtc.com/api/2/ws",
				Pairs:             []string{"BTCUSD"},
				ReconnectBackoff:  duration{5 * time.Second},
				LivenessThreshold: duration{30 * time.Second},
				FeeRate:           0.002,
				FeeGrace:          duration{10 * time.Second},
			},
			"binance": {
				RESTURL:           "https://api.binance.com",
				Pairs:             []string{"BTCUSDT"},
				PollInterval:      duration{5 * time.Second},
				LivenessThreshold: duration{30 * time.Second},
				FeeRate:           0.001,
				FeeGrace:          duration{10 * time.Second},
			},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "cryptotrader",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			Prefix:     "cryptotrader:",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "cryptotrader-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Interval: duration{time.Hour},
		},
		Notify: NotifyConfig{
			Events: []string{"order", "timeout", "maintenance"},
		},
		LogLevel: "info",
	}
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and
// returns a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	anyEnabled := false
	for name, ex := range c.Exchanges {
		if !knownExchanges[name] {
			errs = append(errs, fmt.Sprintf("exchanges: unknown exchange %q", name))
			continue
		}
		if !ex.Enabled {
			continue
		}
		anyEnabled = true

		if PollBased(name) {
			if ex.RESTURL == "" {
				errs = append(errs, fmt.Sprintf("exchanges.%s: rest_url must not be empty", name))
			}
			if ex.PollInterval.Duration <= 0 {
				errs = append(errs, fmt.Sprintf("exchanges.%s: poll_interval must be > 0", name))
			}
		} else if ex.WSURL == "" {
			errs = append(errs, fmt.Sprintf("exchanges.%s: ws_url must not be empty", name))
		}
		if len(ex.Pairs) == 0 {
			errs = append(errs, fmt.Sprintf("exchanges.%s: at least one pair required", name))
		}
		if ex.EncryptedSecretPath != "" && ex.SecretPassword == "" {
			errs = append(errs, fmt.Sprintf("exchanges.%s: secret_password is required when encrypted_secret_path is set", name))
		}
		if ex.APISecret != "" && ex.EncryptedSecretPath != "" {
			errs = append(errs, fmt.Sprintf("exchanges.%s: api_secret and encrypted_secret_path are mutually exclusive", name))
		}
		if ex.FeeRate < 0 || ex.FeeRate >= 1 {
			errs = append(errs, fmt.Sprintf("exchanges.%s: fee_rate must be in [0, 1), got %v", name, ex.FeeRate))
		}
	}
	if !anyEnabled {
		errs = append(errs, "exchanges: at least one exchange must be enabled")
	}

	if c.Postgres.Enabled {
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
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0 when s3 is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
