package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tf "github.com/vellumwallet/vellum/testhelpers/testflags"
)

func TestDefaults(t *testing.T) {
	tf.UnitTest(t)

	cfg := NewDefaultConfig()
	assert.Equal(t, "127.0.0.1:7332", cfg.API.Address)
	assert.Equal(t, 1<<18, cfg.Vault.ScryptN)
	assert.Equal(t, 1, cfg.Vault.ScryptP)
	assert.True(t, cfg.DApps.Enabled)
	assert.Equal(t, 120, cfg.Back.ApprovalTTLSeconds)
}

func TestWriteReadRoundTrip(t *testing.T) {
	tf.UnitTest(t)

	dir, err := os.MkdirTemp("", "config-test")
	require.NoError(t, err)
	defer os.RemoveAll(dir) // nolint: errcheck

	file := filepath.Join(dir, "config.toml")

	cfg := NewDefaultConfig()
	cfg.API.Address = "127.0.0.1:9999"
	cfg.DApps.Enabled = false
	require.NoError(t, cfg.WriteFile(file))

	read, err := ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, cfg, read)
}

func TestReadPartialFileKeepsDefaults(t *testing.T) {
	tf.UnitTest(t)

	dir, err := os.MkdirTemp("", "config-test")
	require.NoError(t, err)
	defer os.RemoveAll(dir) // nolint: errcheck

	file := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(file, []byte("[api]\naddress = \":1234\"\n"), 0644))

	cfg, err := ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, ":1234", cfg.API.Address)
	assert.Equal(t, 1<<18, cfg.Vault.ScryptN)
	assert.True(t, cfg.DApps.Enabled)
}
