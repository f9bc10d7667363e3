package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/mevdash/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, "stream:\n  endpoint: http://localhost:8080\n"))
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080", cfg.Stream.Endpoint)
	assert.Equal(t, "websocket", cfg.Stream.Strategy)
	assert.Equal(t, "explicit", cfg.Stream.GapMode)
	assert.Equal(t, time.Second, cfg.InitialBackoff())
	assert.Equal(t, 30*time.Second, cfg.MaxBackoff())
	assert.Equal(t, 10*time.Second, cfg.ResyncCooldown())
	assert.Equal(t, 16*time.Millisecond, cfg.FrameInterval())
	assert.Zero(t, cfg.SnapshotRefresh(), "sin refresco periódico por defecto")
	assert.Equal(t, 3000, cfg.Store.MaxTransactions)
	assert.Equal(t, 96.0, cfg.View.RowHeightPx)
	assert.Equal(t, "mevdash.db", cfg.Storage.DSN)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoad_ParsesSections(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, `
stream:
  strategy: sse
  credit_window: 32
  gap_mode: legacy
snapshot:
  throttle_ms: 500
  refresh_interval_ms: 60000
store:
  max_transactions: 100
  tx_max_age_ms: 120000
view:
  overscan_rows: 2
  table: true
storage:
  dsn: ":memory:"
  journal: true
log:
  level: debug
  format: json
`))
	require.NoError(t, err)

	assert.Equal(t, "sse", cfg.Stream.Strategy)
	assert.Equal(t, 32, cfg.Stream.CreditWindow)
	assert.Equal(t, "legacy", cfg.Stream.GapMode)
	assert.Equal(t, 500*time.Millisecond, cfg.SnapshotThrottle())
	assert.Equal(t, time.Minute, cfg.SnapshotRefresh())
	assert.Equal(t, 100, cfg.Store.MaxTransactions)
	assert.Equal(t, int64(120000), cfg.Store.TxMaxAgeMs)
	assert.Equal(t, 2, cfg.View.OverscanRows)
	assert.True(t, cfg.View.Table)
	assert.True(t, cfg.Storage.Journal)
	assert.Equal(t, 64, cfg.Stream.CreditWindow)
	assert.Equal(t, ":memory:", cfg.Storage.DSN)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("MEVDASH_ENDPOINT", "https://feed.example")
	t.Setenv("MEVDASH_STRATEGY", "sse")
	t.Setenv("MEVDASH_DB", "/tmp/other.db")

	cfg, err := config.Load(writeConfig(t, "stream:\n  endpoint: http://ignored\n  strategy: websocket\n"))
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "https://feed.example", cfg.Stream.Endpoint)
	assert.Equal(t, "sse", cfg.Stream.Strategy)
	assert.Equal(t, "/tmp/other.db", cfg.Storage.DSN)
}

func TestLoad_Errors(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = config.Load(writeConfig(t, "stream: [unclosed"))
	assert.Error(t, err)
}

func TestDefault(t *testing.T) {
	cfg := config.Default()
	assert.True(t, cfg.Storage.Journal)
	assert.Equal(t, 64, cfg.Stream.CreditWindow)
	assert.Equal(t, "/v1/stream", cfg.Stream.WebSocketPath)
	assert.Equal(t, time.Second, cfg.RenderInterval())
}
