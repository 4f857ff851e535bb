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

	assert.Equal(t, 16, cfg.Engine.MaxConcurrent)
	assert.Equal(t, 5*time.Minute, cfg.Engine.InvocationTimeout)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "agentgraph", cfg.Redis.KeyPrefix)
	assert.Equal(t, 24*time.Hour, cfg.Redis.TerminalTTL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Telemetry.Enabled)
}

func TestLoadFromFile(t *testing.T) {
	raw := `
engine:
  agent_endpoint: http://agents:9000
  max_concurrent: 4
  invocation_timeout: 30s
server:
  addr: ":9090"
redis:
  addr: localhost:6379
  key_prefix: testkernel
archive:
  path: /var/lib/agentgraph/archive.db
log:
  level: debug
  development: true
telemetry:
  enabled: true
  endpoint: collector:4317
  sample_ratio: 0.25
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://agents:9000", cfg.Engine.AgentEndpoint)
	assert.Equal(t, 4, cfg.Engine.MaxConcurrent)
	assert.Equal(t, 30*time.Second, cfg.Engine.InvocationTimeout)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "testkernel", cfg.Redis.KeyPrefix)
	assert.Equal(t, "/var/lib/agentgraph/archive.db", cfg.Archive.Path)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.Development)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.InDelta(t, 0.25, cfg.Telemetry.SampleRatio, 1e-9)

	// Values the file does not mention keep their defaults.
	assert.Equal(t, 24*time.Hour, cfg.Redis.TerminalTTL)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("AGENTGRAPH_ADDR", ":7070")
	t.Setenv("AGENTGRAPH_REDIS_ADDR", "redis:6379")
	t.Setenv("AGENTGRAPH_REDIS_PASSWORD", "hunter2")
	t.Setenv("AGENTGRAPH_REDIS_DB", "3")
	t.Setenv("AGENTGRAPH_LOG_LEVEL", "warn")
	t.Setenv("AGENTGRAPH_OTLP_ENDPOINT", "otel:4317")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "hunter2", cfg.Redis.Password)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "otel:4317", cfg.Telemetry.Endpoint)
}

func TestLoadValidation(t *testing.T) {
	write := func(t *testing.T, raw string) string {
		t.Helper()
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))
		return path
	}

	t.Run("bad log level", func(t *testing.T) {
		_, err := Load(write(t, "log:\n  level: verbose\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "log.level")
	})

	t.Run("non-positive concurrency", func(t *testing.T) {
		_, err := Load(write(t, "engine:\n  max_concurrent: -1\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "max_concurrent")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := Load(write(t, "engine: [not a map\n"))
		assert.Error(t, err)
	})
}
