package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, path, yaml string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))
}

const baseYAML = `
mode: paper
database_url: "postgres://test@localhost/test?sslmode=disable"
redis_addr: "localhost:6379"
rate_limit:
  requests_per_window: 200
  window: 60s
brokers:
  b1:
    type: dhan
    base_url: https://api.dhan.co
`

func TestLoad_AppliesDefaultsAndValidates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeTestConfig(t, path, baseYAML)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ModePaper, cfg.Mode)
	require.Equal(t, 8080, cfg.HTTPPort)
	require.Equal(t, "info", cfg.Logging.Level)
	require.Equal(t, "dhan", cfg.Brokers["b1"].Type)
}

func TestLoad_MissingDatabaseURLFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeTestConfig(t, path, "mode: paper\nredis_addr: localhost:6379\n")

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeTestConfig(t, path, baseYAML)

	t.Setenv("ALGO_DATABASE_URL", "postgres://override@localhost/test")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "postgres://override@localhost/test", cfg.DatabaseURL)
}

func TestRequireLiveConfirmation(t *testing.T) {
	require.NoError(t, RequireLiveConfirmation(ModePaper, false, ""))
	require.Error(t, RequireLiveConfirmation(ModeLive, false, "true"))
	require.Error(t, RequireLiveConfirmation(ModeLive, true, "false"))
	require.NoError(t, RequireLiveConfirmation(ModeLive, true, "true"))
}
