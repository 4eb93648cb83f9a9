package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mads-go/mads"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, mads.FlagEnableMADS, cfg.Arbiter.Flags)
	assert.Equal(t, uint32(100), cfg.Arbiter.TickHz)
	assert.Equal(t, int64(500), cfg.Watchdog.StaleAfterMs)
	assert.Equal(t, "127.0.0.1:9430", cfg.Console.Listen)
	assert.Equal(t, "127.0.0.1:9431", cfg.Telemetry.Listen)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "madsd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
arbiter:
  flags: 3072
  tick_hz: 50
watchdog:
  stale_after_ms: 250
console:
  listen: 127.0.0.1:9999
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, mads.FlagEnableMADS|mads.FlagDisableDisengageLateralOnBrake, cfg.Arbiter.Flags)
	assert.Equal(t, uint32(50), cfg.Arbiter.TickHz)
	assert.Equal(t, int64(250), cfg.Watchdog.StaleAfterMs)
	assert.Equal(t, "127.0.0.1:9999", cfg.Console.Listen)
	// Untouched keys keep their defaults.
	assert.Equal(t, int64(100), cfg.Watchdog.CheckEveryMs)
	assert.Equal(t, "127.0.0.1:9431", cfg.Telemetry.Listen)
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
