package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	c := Default()

	assert.Equal(t, "127.0.0.1", c.Server.Host)
	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, uint32(5), c.Gate.FailureThreshold)
	assert.Equal(t, 5*time.Minute, c.Gate.Cooldown)
	assert.Equal(t, 2*time.Second, c.Pricing.Timeout)
	assert.Zero(t, c.RedisTTL())
	assert.Empty(t, c.Postgres.DSN)
	assert.Equal(t, 5*time.Minute, c.Snapshot.Interval)
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Server.Port, c.Server.Port)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load("/does/not/exist.yaml")
	assert.Error(t, err)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repricer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
gate:
  failure_threshold: 3
  cooldown: 90s
redis:
  addr: localhost:6379
  default_ttl_seconds: 60
regime:
  strategies:
    price_war: scorched_earth
`), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, c.Server.Port)
	assert.Equal(t, uint32(3), c.Gate.FailureThreshold)
	assert.Equal(t, 90*time.Second, c.Gate.Cooldown)
	assert.Equal(t, "localhost:6379", c.Redis.Addr)
	assert.Equal(t, time.Minute, c.RedisTTL())
	assert.Equal(t, "scorched_earth", c.Regime.Strategies["price_war"])

	// Untouched sections keep their defaults.
	assert.Equal(t, "127.0.0.1", c.Server.Host)
	assert.Equal(t, 2*time.Second, c.Pricing.Timeout)
}

func TestEnvOverridesWinOverYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repricer.yaml")
	require.NoError(t, os.WriteFile(path, []byte("redis:\n  addr: from-yaml:6379\n"), 0o644))

	t.Setenv("REDIS_ADDR", "from-env:6379")
	t.Setenv("HTTP_PORT", "7070")
	t.Setenv("PRICING_TIMEOUT", "500ms")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env:6379", c.Redis.Addr)
	assert.Equal(t, 7070, c.Server.Port)
	assert.Equal(t, 500*time.Millisecond, c.Pricing.Timeout)
}
