package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kiwoomd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "app:\n  env: prod\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "prod", cfg.App.Env)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, ":8890", cfg.Server.HTTPAddr)
	assert.Equal(t, "sim", cfg.Broker.Mode)
	assert.Equal(t, 5, cfg.Broker.QueryTimeoutSeconds)
	assert.Equal(t, 256, cfg.Broker.QueueSize)
}

func TestLoadExplicitValuesWin(t *testing.T) {
	path := writeConfig(t, `
app:
  log_level: debug
broker:
  mode: ocx
  account: "8012345611"
  query_timeout_seconds: 10
realtime:
  auto_subscribe: true
  codes: ["005930", "000660", "005930", " "]
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, "ocx", cfg.Broker.Mode)
	assert.Equal(t, 10, cfg.Broker.QueryTimeoutSeconds)
	assert.Equal(t, []string{"005930", "000660"}, cfg.Realtime.Codes,
		"codes are deduplicated and blank entries dropped")
}

func TestLoadRejectsBadMode(t *testing.T) {
	path := writeConfig(t, "broker:\n  mode: paper\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker.mode")
}

func TestLoadRejectsOcxWithoutAccount(t *testing.T) {
	path := writeConfig(t, "broker:\n  mode: ocx\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker.account")
}

func TestLoadRejectsBadRealtimeCode(t *testing.T) {
	path := writeConfig(t, "realtime:\n  codes: [\"59\"]\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "realtime.codes")
}

func TestEnsureStarterRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "kiwoomd.yaml")

	created, err := EnsureStarter(path)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = EnsureStarter(path)
	require.NoError(t, err)
	assert.False(t, created, "existing file is left untouched")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sim", cfg.Broker.Mode)
	assert.True(t, cfg.Realtime.AutoSubscribe)
	assert.Equal(t, []string{"005930"}, cfg.Realtime.Codes)
}
