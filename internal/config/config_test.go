package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	// Defaults run in full mode and therefore need a feed URL and at least
	// one instrument.
	cfg.Feed.WsURL = "wss://example.com/stream"
	cfg.Instruments = []InstrumentConfig{{ID: "BTC-USD"}}

	require.NoError(t, cfg.Validate())
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "bogus"
	cfg.LogLevel = "loud"
	cfg.Book.Lambda = -1
	cfg.Redis.Addr = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "unknown log_level")
	assert.Contains(t, err.Error(), "lambda")
	assert.Contains(t, err.Error(), "redis: addr")
}

func TestValidate_DuplicateInstruments(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "serve"
	cfg.Instruments = []InstrumentConfig{
		{ID: "BTC-USD"},
		{ID: "BTC-USD"},
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate id")
}

func TestValidate_ServeModeNeedsNoFeed(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "serve"
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
mode = "ingest"
log_level = "debug"

[feed]
ws_url = "wss://feed.example.com/md"
reconnect_backoff = "500ms"

[book]
tick_size = "0.05"

[[instruments]]
id = "BTC-USD"
tick_size = "0.5"

[[instruments]]
id = "ETH-USD"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("BOOKFEED_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("BOOKFEED_BOOK_LAMBDA", "0.25")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ingest", cfg.Mode)
	assert.Equal(t, "wss://feed.example.com/md", cfg.Feed.WsURL)
	assert.Equal(t, 500*time.Millisecond, cfg.Feed.ReconnectBackoff.Duration)
	assert.Equal(t, "0.05", cfg.Book.TickSize)
	assert.Equal(t, 0.25, cfg.Book.Lambda, "env should override file and defaults")
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)

	require.Len(t, cfg.Instruments, 2)
	assert.Equal(t, "0.5", cfg.Instruments[0].TickSize)
	assert.Empty(t, cfg.Instruments[1].TickSize, "instrument without override falls back to book defaults")

	// Untouched sections keep their defaults.
	assert.Equal(t, 20, cfg.Redis.PoolSize)
	assert.Equal(t, 256, cfg.Dispatch.QueueSize)

	require.NoError(t, cfg.Validate())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}
