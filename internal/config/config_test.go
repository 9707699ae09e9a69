package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DIFFING_SERVICE_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":7777", cfg.ListenAddr)
	assert.Equal(t, 4, cfg.WorkerCount)
	assert.False(t, cfg.IsProduction())
}

func TestLoadYAMLFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen_addr: \":9999\"\nworker_count: 8\n"), 0o644))
	t.Setenv("DIFFING_SERVICE_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.ListenAddr)
	assert.Equal(t, 8, cfg.WorkerCount)
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("worker_count: 8\n"), 0o644))
	t.Setenv("DIFFING_SERVICE_CONFIG", path)
	t.Setenv("DIFF_WORKER_COUNT", "2")
	t.Setenv("WEB_MONITORING_APP_ENV", "production")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.WorkerCount)
	assert.True(t, cfg.IsProduction())
}

func TestLoadRestartBrokenDifferTruthiness(t *testing.T) {
	t.Setenv("DIFFING_SERVICE_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

	for _, v := range []string{"1", "true", "TRUE"} {
		t.Setenv("RESTART_BROKEN_DIFFER", v)
		cfg, err := Load()
		require.NoError(t, err)
		assert.True(t, cfg.RestartOnBroken, v)
	}

	t.Setenv("RESTART_BROKEN_DIFFER", "0")
	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.RestartOnBroken)
}

func TestLoadAccessControlAllowOriginWildcard(t *testing.T) {
	t.Setenv("DIFFING_SERVICE_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("ACCESS_CONTROL_ALLOW_ORIGIN", "*")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.CORSAllowAllOrigins)
	assert.Empty(t, cfg.CORSAllowedOrigins)
}

func TestLoadAccessControlAllowOriginList(t *testing.T) {
	t.Setenv("DIFFING_SERVICE_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("ACCESS_CONTROL_ALLOW_ORIGIN", "one.com, two.com,three.com")

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.CORSAllowAllOrigins)
	assert.Equal(t, []string{"one.com", "two.com", "three.com"}, cfg.CORSAllowedOrigins)
}
