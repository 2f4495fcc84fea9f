// Package config defines the top-level configuration for bookfeed and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by BOOKFEED_* environment
// variables.
type Config struct {
	Feed        FeedConfig         `toml:"feed"`
	Book        BookConfig         `toml:"book"`
	Dispatch    DispatchConfig     `toml:"dispatch"`
	Redis       RedisConfig        `toml:"redis"`
	Postgres    PostgresConfig     `toml:"postgres"`
	Server      ServerConfig       `toml:"server"`
	Instruments []InstrumentConfig `toml:"instruments"`
	Mode        string             `toml:"mode"`
	LogLevel    string             `toml:"log_level"`
}

// FeedConfig holds upstream market-data connection parameters.
type FeedConfig struct {
	WsURL            string   `toml:"ws_url"`
	ReconnectBackoff duration `toml:"reconnect_backoff"`
	DialTimeout      duration `toml:"dial_timeout"`
}

// BookConfig holds per-book defaults, used when an instrument does not
// specify its own values.
type BookConfig struct {
	TickSize       string  `toml:"tick_size"`
	Lambda         float64 `toml:"lambda"`
	Levels         int     `toml:"levels"`
	ImbalanceDelta float64 `toml:"imbalance_delta"`
}

// DispatchConfig holds notification fan-out parameters.
type DispatchConfig struct {
	QueueSize int `toml:"queue_size"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// PostgresConfig holds PostgreSQL connection parameters for the instrument
// store. When Enabled is false, instruments come from the TOML file only.
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

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// InstrumentConfig describes one instrument to track, with optional
// overrides of the book defaults.
type InstrumentConfig struct {
	ID             string  `toml:"id"`
	TickSize       string  `toml:"tick_size"`
	Lambda         float64 `toml:"lambda"`
	Levels         int     `toml:"levels"`
	ImbalanceDelta float64 `toml:"imbalance_delta"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5s", "250ms").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings.
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
		Feed: FeedConfig{
			WsURL:            "",
			ReconnectBackoff: duration{2 * time.Second},
			DialTimeout:      duration{15 * time.Second},
		},
		Book: BookConfig{
			TickSize:       "0.01",
			Lambda:         0.5,
			Levels:         5,
			ImbalanceDelta: 1.0,
		},
		Dispatch: DispatchConfig{
			QueueSize: 256,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "bookfeed",
			User:          "bookfeed",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"ingest": true,
	"serve":  true,
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

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: ingest, serve, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Feed — required in modes that ingest market data.
	needsFeed := c.Mode == "ingest" || c.Mode == "full"
	if needsFeed && c.Feed.WsURL == "" {
		errs = append(errs, "feed: ws_url must be set for mode "+c.Mode)
	}
	if c.Feed.ReconnectBackoff.Duration <= 0 {
		errs = append(errs, "feed: reconnect_backoff must be positive")
	}

	// Book defaults.
	if c.Book.TickSize == "" {
		errs = append(errs, "book: tick_size must not be empty")
	}
	if c.Book.Lambda <= 0 {
		errs = append(errs, "book: lambda must be > 0")
	}
	if c.Book.Levels < 1 {
		errs = append(errs, "book: levels must be >= 1")
	}
	if c.Book.ImbalanceDelta < 0 {
		errs = append(errs, "book: imbalance_delta must be >= 0")
	}

	// Dispatch.
	if c.Dispatch.QueueSize < 1 {
		errs = append(errs, "dispatch: queue_size must be >= 1")
	}

	// Redis.
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Postgres — only when the instrument store is enabled.
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
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Instruments — must come from the file or from Postgres.
	if !c.Postgres.Enabled && len(c.Instruments) == 0 && needsFeed {
		errs = append(errs, "instruments: at least one instrument is required when postgres is disabled")
	}
	seen := make(map[string]bool, len(c.Instruments))
	for i, inst := range c.Instruments {
		if inst.ID == "" {
			errs = append(errs, fmt.Sprintf("instruments[%d]: id must not be empty", i))
			continue
		}
		if seen[inst.ID] {
			errs = append(errs, fmt.Sprintf("instruments[%d]: duplicate id %q", i, inst.ID))
		}
		seen[inst.ID] = true
	}

	// Server.
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
