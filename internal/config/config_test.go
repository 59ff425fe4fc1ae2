package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "file", cfg.Storage.Conversation.Driver)
	assert.Equal(t, "memory", cfg.Queue.Driver)
	assert.True(t, cfg.Orchestrator.ReviewEnabled)
	assert.Equal(t, 25, cfg.Orchestrator.MaxPasses)
	assert.Equal(t, 50, cfg.Orchestrator.MaxToolCalls)
	assert.Equal(t, 7*24*time.Hour, cfg.Storage.Checkpoint.TTL)
	assert.Equal(t, "data", cfg.Runtime.DataDir)
}

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orchestrator.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  address: ":9090"
storage:
  checkpoint:
    driver: redis
    ttl: 2h
    redis:
      address: redis:6379
queue:
  driver: rabbitmq
  workers: 2
web3:
  chain_config: chains.yaml
orchestrator:
  review_enabled: false
`), 0o644))
	t.Setenv("OPENMCP_ORCH_SERVER_ADDRESS", ":7070")
	t.Setenv("OPENMCP_ORCH_ORCHESTRATOR_MAX_PASSES", "40")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Address)
	assert.Equal(t, 40, cfg.Orchestrator.MaxPasses)
	assert.False(t, cfg.Orchestrator.ReviewEnabled)
	assert.Equal(t, "redis", cfg.Storage.Checkpoint.Driver)
	assert.Equal(t, "redis:6379", cfg.Storage.Checkpoint.Redis.Address)
	assert.Equal(t, 2*time.Hour, cfg.Storage.Checkpoint.TTL)
	assert.Equal(t, "rabbitmq", cfg.Queue.Driver)
	assert.Equal(t, 2, cfg.Queue.Workers)
	assert.Equal(t, filepath.Join(dir, "chains.yaml"), cfg.Web3.ChainConfig)
	assert.Equal(t, filepath.Join(dir, "data"), cfg.Runtime.DataDir)
}

func TestValidateRejectsInconsistentConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
  "storage": {"conversation": {"driver": "mysql"}},
  "queue": {"driver": "kafka"},
  "auth": {"mode": "jwt", "secret": "short"}
}`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.conversation.dsn")
	assert.Contains(t, err.Error(), "queue.driver")
	assert.Contains(t, err.Error(), "auth.secret")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
