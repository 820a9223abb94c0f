package agent

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ":9090", cfg.Health.Addr)
	assert.Equal(t, "world", cfg.Stats.World)
	assert.Equal(t, 60*time.Second, cfg.Refresh.Interval)
	assert.Equal(t, 8, cfg.Refresh.Concurrency)
	assert.True(t, cfg.API.Enabled)
	assert.Equal(t, "0.0.0.0:8080", cfg.API.Addr)
	assert.Equal(t, 20, cfg.API.MaxTopResults)
	assert.Zero(t, cfg.API.MaxResponsePlayers)
	assert.False(t, cfg.Bridge.Enabled)
	assert.False(t, cfg.History.Enabled)
	assert.False(t, cfg.History.HTTP.Enabled)
	assert.Equal(t, 3, cfg.History.HTTP.Retry.Max)
}

func TestLoadConfig(t *testing.T) {
	yaml := `
log_level: debug
stats:
  folder: stats-copy
  world_container: /srv/minecraft
  world: survival
refresh:
  interval: 15s
  concurrency: 2
api:
  addr: "127.0.0.1:8123"
  base_path: /mc/
  max_response_players: 50
  max_top_results: 5
  cors:
    enabled: true
    allow_origin: "https://map.example.org"
bridge:
  enabled: true
  addr: "127.0.0.1:8124"
  token: secret
health:
  addr: ":9091"
history:
  enabled: true
  server_name: survival-1
  http:
    enabled: true
    address: "http://collector:8080/snapshots"
    compression: zstd
    batch:
      timeout: 2s
`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "stats-copy", cfg.Stats.Folder)
	assert.Equal(t, "/srv/minecraft", cfg.Stats.WorldContainer)
	assert.Equal(t, "survival", cfg.Stats.World)
	assert.Equal(t, 15*time.Second, cfg.Refresh.Interval)
	assert.Equal(t, 2, cfg.Refresh.Concurrency)

	assert.True(t, cfg.API.Enabled)
	assert.Equal(t, "127.0.0.1:8123", cfg.API.Addr)
	assert.Equal(t, "/mc/", cfg.API.BasePath)
	assert.Equal(t, 50, cfg.API.MaxResponsePlayers)
	assert.Equal(t, 5, cfg.API.MaxTopResults)
	assert.True(t, cfg.API.CORS.Enabled)
	assert.Equal(t, "https://map.example.org", cfg.API.CORS.AllowOrigin)

	assert.True(t, cfg.Bridge.Enabled)
	assert.Equal(t, "/host/events", cfg.Bridge.Path)
	assert.Equal(t, "secret", cfg.Bridge.Token)

	assert.Equal(t, ":9091", cfg.Health.Addr)

	assert.Equal(t, "survival-1", cfg.History.ServerName)
	assert.Equal(t, "zstd", cfg.History.HTTP.Compression)
	assert.Equal(t, 512, cfg.History.HTTP.Batch.Size)
	assert.Equal(t, 2*time.Second, cfg.History.HTTP.Batch.Timeout)
	assert.Equal(t, 3, cfg.History.HTTP.Retry.Max)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/path.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	// Use a tab character at the start which is invalid YAML indentation.
	require.NoError(t, os.WriteFile(path, []byte("\t- bad"), 0o644))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestLoadConfig_DisabledPeriodicRefresh(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("refresh:\n  interval: 0s\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Zero(t, cfg.Refresh.Interval)
	assert.Equal(t, 8, cfg.Refresh.Concurrency)
}

func TestLoadConfig_InvalidAPIIsNotFatal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api:\n  addr: \"0.0.0.0:99999\"\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Error(t, cfg.API.Validate())
}

func TestValidate_HistoryWithoutSink(t *testing.T) {
	cfg := DefaultConfig()
	cfg.History.Enabled = true

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "history")
}

func TestValidate_BridgePath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Bridge.Enabled = true
	cfg.Bridge.Path = "events"

	require.Error(t, cfg.Validate())
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.NoError(t, cfg.Validate())
}

func TestApplyDefaults_ServerName(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ApplyDefaults()

	host, err := os.Hostname()
	require.NoError(t, err)
	assert.Equal(t, host, cfg.History.ServerName)
}
