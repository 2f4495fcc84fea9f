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
// built-in defaults, applies BOOKFEED_* environment variable overrides, and
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

// applyEnvOverrides reads well-known BOOKFEED_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject connection details at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Feed ──
	setStr(&cfg.Feed.WsURL, "BOOKFEED_FEED_WS_URL")
	setDuration(&cfg.Feed.ReconnectBackoff, "BOOKFEED_FEED_RECONNECT_BACKOFF")
	setDuration(&cfg.Feed.DialTimeout, "BOOKFEED_FEED_DIAL_TIMEOUT")

	// ── Book defaults ──
	setStr(&cfg.Book.TickSize, "BOOKFEED_BOOK_TICK_SIZE")
	setFloat64(&cfg.Book.Lambda, "BOOKFEED_BOOK_LAMBDA")
	setInt(&cfg.Book.Levels, "BOOKFEED_BOOK_LEVELS")
	setFloat64(&cfg.Book.ImbalanceDelta, "BOOKFEED_BOOK_IMBALANCE_DELTA")

	// ── Dispatch ──
	setInt(&cfg.Dispatch.QueueSize, "BOOKFEED_DISPATCH_QUEUE_SIZE")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "BOOKFEED_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BOOKFEED_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BOOKFEED_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BOOKFEED_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BOOKFEED_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "BOOKFEED_REDIS_TLS_ENABLED")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "BOOKFEED_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "BOOKFEED_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "BOOKFEED_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "BOOKFEED_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "BOOKFEED_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "BOOKFEED_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "BOOKFEED_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "BOOKFEED_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "BOOKFEED_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "BOOKFEED_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "BOOKFEED_POSTGRES_RUN_MIGRATIONS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "BOOKFEED_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "BOOKFEED_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "BOOKFEED_SERVER_CORS_ORIGINS")

	// ── Top-level ──
	setStr(&cfg.Mode, "BOOKFEED_MODE")
	setStr(&cfg.LogLevel, "BOOKFEED_LOG_LEVEL")
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
