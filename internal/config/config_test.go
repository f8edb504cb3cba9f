package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	require.NotEmpty(t, c.Storage.RootDir)
	require.NotEmpty(t, c.Service.ListenAddr)
}

func TestLoadWithoutPathReturnsDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), c)
}

func TestLoadAppliesOptionsOverFileDefaults(t *testing.T) {
	c, err := Load("", WithRootDir("/tmp/custom"), WithListenAddr(":9090"))
	require.NoError(t, err)
	require.Equal(t, "/tmp/custom", c.Storage.RootDir)
	require.Equal(t, ":9090", c.Service.ListenAddr)
}

func TestLoadParsesTOMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `
[storage]
root_dir = "/var/lib/kvmanagerd"
buffer_size = 2048
memtable_size = 4096
max_sync_interval_ms = 2000
reclamation_poll_interval_ms = 10

[service]
listen_addr = ":9999"
shutdown_timeout_ms = 1000
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/var/lib/kvmanagerd", c.Storage.RootDir)
	require.Equal(t, int64(2048), c.Storage.BufferSize)
	require.Equal(t, 2*time.Second, c.Storage.MaxSyncInterval())
	require.Equal(t, ":9999", c.Service.ListenAddr)
	require.Equal(t, time.Second, c.Service.ShutdownTimeout())
}

func TestLoadOptionOverridesFileValue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[storage]
root_dir = "/from/file"

[service]
listen_addr = ":1111"
`), 0o644))

	c, err := Load(path, WithRootDir("/from/flag"))
	require.NoError(t, err)
	require.Equal(t, "/from/flag", c.Storage.RootDir)
	require.Equal(t, ":1111", c.Service.ListenAddr)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}
