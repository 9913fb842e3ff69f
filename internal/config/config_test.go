package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tracksync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TRACKSYNC_DATA_DIR", dir)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, 20, cfg.Sync.BatchSize)
	assert.Equal(t, 10*time.Minute, cfg.Recorder.IntervalPeriod)
	assert.Equal(t, filepath.Join(dir, "tracksync.db"), cfg.Database.Path)
	assert.Equal(t, filepath.Join(dir, "plugins"), cfg.Plugins.Dir)
	assert.Equal(t, cfg.API.BaseURL, cfg.ProbeURL())
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
environment: development
logLevel: debug
dataDir: `+dir+`
api:
  baseURL: https://api.example.test/api
  requestTimeout: 10s
network:
  probeURL: https://status.example.test
sync:
  interval: 1m
  batchSize: 50
recorder:
  intervalPeriod: 5m
sleep:
  strategy: controlled
  inactivityLimit: 15m
plugins:
  dir: addons
database:
  path: store.db
  journalMode: DELETE
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "https://api.example.test/api", cfg.API.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.API.RequestTimeout)
	assert.Equal(t, "https://status.example.test", cfg.ProbeURL())
	assert.Equal(t, time.Minute, cfg.Sync.Interval)
	assert.Equal(t, 50, cfg.Sync.BatchSize)
	assert.Equal(t, 5, cfg.Sync.FailureThreshold, "untouched fields keep defaults")
	assert.Equal(t, 5*time.Minute, cfg.Recorder.IntervalPeriod)
	assert.Equal(t, SleepControlled, cfg.Sleep.Strategy)
	assert.Equal(t, 15*time.Minute, cfg.Sleep.InactivityLimit)
	assert.Equal(t, filepath.Join(dir, "addons"), cfg.Plugins.Dir)
	assert.Equal(t, filepath.Join(dir, "store.db"), cfg.Database.Path)
	assert.Equal(t, "DELETE", cfg.Database.JournalMode)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, "dataDir: "+dir+"\nsync:\n  batchSize: 50\n")
	t.Setenv("TRACKSYNC_SYNC_BATCH_SIZE", "7")
	t.Setenv("TRACKSYNC_SYNC_INTERVAL", "90s")
	t.Setenv("TRACKSYNC_API_URL", "https://override.example.test")
	t.Setenv("TRACKSYNC_LOG_JSON", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Sync.BatchSize)
	assert.Equal(t, 90*time.Second, cfg.Sync.Interval)
	assert.Equal(t, "https://override.example.test", cfg.API.BaseURL)
	assert.True(t, cfg.LogJSON)
}

func TestLoad_MalformedEnv(t *testing.T) {
	t.Setenv("TRACKSYNC_DATA_DIR", t.TempDir())
	t.Setenv("TRACKSYNC_TICK_PERIOD", "soon")

	_, err := Load("")
	assert.ErrorContains(t, err, "TRACKSYNC_TICK_PERIOD")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := Default()
		cfg.DataDir = t.TempDir()
		cfg.Database.Path = filepath.Join(cfg.DataDir, "t.db")
		return cfg
	}
	require.NoError(t, base().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"environment", func(c *Config) { c.Environment = "staging" }, "invalid environment"},
		{"api url", func(c *Config) { c.API.BaseURL = "not a url" }, "api.baseURL"},
		{"batch size", func(c *Config) { c.Sync.BatchSize = 0 }, "sync.batchSize"},
		{"interval shorter than tick", func(c *Config) { c.Recorder.IntervalPeriod = time.Millisecond }, "recorder.intervalPeriod"},
		{"sleep strategy", func(c *Config) { c.Sleep.Strategy = "sometimes" }, "sleep.strategy"},
		{"server addr", func(c *Config) { c.Server.Addr = "" }, "server.addr"},
		{"database", func(c *Config) { c.Database.JournalMode = "BOGUS" }, "database"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}
