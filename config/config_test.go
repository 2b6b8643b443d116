package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()
	assert.Equal(t, "pubsubrpc", cfg.AppName)
	assert.Equal(t, "localhost:6379", cfg.Broker.Address)
	assert.Equal(t, 30.0, cfg.AwaitTimeoutSeconds)
	assert.False(t, cfg.Debug)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("PUBSUBRPC_BROKER_ADDRESS", "redis.internal:6380")
	t.Setenv("PUBSUBRPC_BROKER_PASSWORD", "secret")
	t.Setenv("PUBSUBRPC_DEBUG", "true")

	cfg := FromEnv()
	assert.Equal(t, "redis.internal:6380", cfg.Broker.Address)
	assert.Equal(t, "secret", cfg.Broker.Password)
	assert.True(t, cfg.Debug)
}

func TestLoadFillsDefaultsForUnsetFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "broker:\n  address: myredis:6379\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "myredis:6379", cfg.Broker.Address)
	assert.Equal(t, 64*1024, cfg.SidebandBytes)
	assert.Equal(t, "pubsubrpc:sideband:", cfg.KVKeyPrefix)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadAppliesEnvOverOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("broker:\n  address: fromfile:1\n"), 0o644))
	t.Setenv("PUBSUBRPC_BROKER_ADDRESS", "fromenv:2")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "fromenv:2", cfg.Broker.Address)
}
