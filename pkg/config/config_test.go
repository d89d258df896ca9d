package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, key := range []string{
		"WEXEC_NODE_ID", "WEXEC_BIND_ADDR", "WEXEC_API_ADDR", "WEXEC_UNIX_SOCKET",
		"WEXEC_METRICS_ADDR", "WEXEC_DATA_DIR", "WEXEC_TOTAL_SHARDS",
		"WEXEC_FS_ROOT", "WEXEC_CACHE_CAPACITY", "WEXEC_CONNECT_ALSO_RESUMES",
		"WEXEC_RETRY_BACKOFF_INITIAL", "WEXEC_RETRY_BACKOFF_MAX",
		"WEXEC_RETRY_BACKOFF_MULTIPLIER", "WEXEC_RETRY_MAX_ATTEMPTS",
		"WEXEC_LOG_LEVEL", "WEXEC_LOG_JSON",
	} {
		os.Unsetenv(key)
	}
}

func TestLoadRequiresNodeId(t *testing.T) {
	clearEnv(t)
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearEnv(t)
	os.Setenv("WEXEC_NODE_ID", "node-1")
	defer clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "node-1", cfg.NodeId)
	assert.Equal(t, ":7433", cfg.BindAddr)
	assert.Equal(t, ":7434", cfg.ApiAddr)
	assert.Equal(t, "127.0.0.1:9090", cfg.MetricsAddr)
	assert.Equal(t, uint32(8), cfg.TotalShards)
	assert.Equal(t, 1024, cfg.CacheCapacity)
	assert.False(t, cfg.ConnectAlsoResumes)
	assert.Equal(t, 200*time.Millisecond, cfg.RetryBackoffInitial)
	assert.Equal(t, 5, cfg.RetryMaxAttempts)
}

func TestLoadOverridesFromEnv(t *testing.T) {
	clearEnv(t)
	os.Setenv("WEXEC_NODE_ID", "node-2")
	os.Setenv("WEXEC_TOTAL_SHARDS", "32")
	os.Setenv("WEXEC_CONNECT_ALSO_RESUMES", "true")
	defer clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, uint32(32), cfg.TotalShards)
	assert.True(t, cfg.ConnectAlsoResumes)
}

func TestClusterConfigAndEngineConfigProjections(t *testing.T) {
	clearEnv(t)
	os.Setenv("WEXEC_NODE_ID", "node-3")
	os.Setenv("WEXEC_BIND_ADDR", "10.0.0.1:7433")
	defer clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	clusterCfg := cfg.ClusterConfig()
	assert.Equal(t, "node-3", clusterCfg.NodeId)
	assert.Equal(t, "10.0.0.1:7433", clusterCfg.BindAddr)
	assert.Equal(t, cfg.TotalShards, clusterCfg.TotalShards)

	engineCfg := cfg.EngineConfig()
	assert.Equal(t, cfg.FSRoot, engineCfg.FSRoot)
	assert.Equal(t, cfg.CacheCapacity, engineCfg.CacheCapacity)
	assert.Equal(t, cfg.RetryMaxAttempts, engineCfg.Runtime.RetryMaxAttempts)
}
