package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFile(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeFile(t, "wspreset.toml", `
[server]
addr = ":9090"
heartbeat_interval = "3s"
revive_dates = true
codec = "binary"
rate_limit = 50.5

[client]
name = "car"
max_retries = 2

[etcd]
endpoints = ["127.0.0.1:2379"]

[log]
format = "json"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "/ws", cfg.Server.Path)
	assert.Equal(t, 3*time.Second, cfg.Server.HeartbeatInterval.Duration)
	assert.True(t, cfg.Server.ReviveDates)
	assert.Equal(t, "binary", cfg.Server.Codec)
	assert.Equal(t, "json", cfg.Client.Codec)
	assert.Equal(t, 50.5, cfg.Server.RateLimit)
	assert.Equal(t, "car", cfg.Client.Name)
	assert.Equal(t, 2, cfg.Client.MaxRetries)
	assert.Equal(t, []string{"127.0.0.1:2379"}, cfg.Etcd.Endpoints)
	assert.Equal(t, int64(10), cfg.Etcd.TTL)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeFile(t, "wspreset.toml", "[server]\naddr = \":9090\"\n")
	t.Setenv("WSPRESET_SERVER_ADDR", ":7070")
	t.Setenv("WSPRESET_SERVER_DEFAULT_TIMEOUT", "1500ms")
	t.Setenv("WSPRESET_CLIENT_MAX_RETRIES", "7")
	t.Setenv("WSPRESET_SERVER_REVIVE_DATES", "true")
	t.Setenv("WSPRESET_ETCD_ENDPOINTS", "a:2379,b:2379")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, 1500*time.Millisecond, cfg.Server.DefaultTimeout.Duration)
	assert.Equal(t, 7, cfg.Client.MaxRetries)
	assert.True(t, cfg.Server.ReviveDates)
	assert.Equal(t, []string{"a:2379", "b:2379"}, cfg.Etcd.Endpoints)
}

func TestDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("WSPRESET_CLIENT_NAME=bike\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("WSPRESET_CLIENT_NAME") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "bike", cfg.Client.Name)
}

func TestLoadErrors(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "bad.toml", "[server\n"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "dur.toml", "[server]\nheartbeat_interval = \"soon\"\n"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "path.toml", "[server]\npath = \"ws\"\n"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "codec.toml", "[client]\ncodec = \"xml\"\n"))
	assert.Error(t, err)

	t.Setenv("WSPRESET_CLIENT_MAX_RETRIES", "many")
	_, err = Load("")
	assert.Error(t, err)
}
