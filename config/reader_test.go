package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryEndpointDefault(t *testing.T) {
	t.Setenv(BaseURLEnv, "")

	conf, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/query", conf.QueryEndpoint())
	assert.Equal(t, "ws://localhost:8080/query", conf.SubscriptionEndpoint())
}

func TestQueryEndpointFromEnv(t *testing.T) {
	t.Setenv(BaseURLEnv, "https://api.example.com")

	conf, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/query", conf.QueryEndpoint())
	assert.Equal(t, "wss://api.example.com/query", conf.SubscriptionEndpoint())
}

func TestQueryEndpointTrailingSlash(t *testing.T) {
	assert.Equal(t, "https://api.example.com/query", QueryEndpoint("https://api.example.com/"))
	assert.Equal(t, "http://localhost:8080/query", QueryEndpoint(""))
}

func TestLoadConfigFile(t *testing.T) {
	t.Setenv(BaseURLEnv, "")
	t.Setenv("PORT", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("LOG_LEVEL", "")

	path := filepath.Join(t.TempDir(), "app.yaml")
	data := []byte(`
backend:
  base_url: http://backend:9000
web:
  port: 4000
  render_timeout: 250ms
  show_errors: true
cache:
  driver: redis
redis:
  host: cache
  port: 6380
logs:
  level: debug
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	conf, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "http://backend:9000/query", conf.QueryEndpoint())
	assert.Equal(t, ":4000", conf.ListenAddr())
	assert.Equal(t, 250*time.Millisecond, conf.Web.RenderTimeout)
	assert.True(t, conf.Web.ShowErrors)
	assert.Equal(t, "redis", conf.Cache.Driver)
	assert.Equal(t, DefaultCacheTTL, conf.Cache.TTL)
	assert.Equal(t, "cache:6380", conf.Redis.Addr())
	assert.Equal(t, "debug", conf.Logs.Level)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend:\n  base_url: http://backend:9000\n"), 0o600))
	t.Setenv(BaseURLEnv, "https://api.example.com")
	t.Setenv("PORT", "5000")
	t.Setenv("REDIS_ADDR", "redis.local:6390")

	conf, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/query", conf.QueryEndpoint())
	assert.Equal(t, 5000, conf.Web.Port)
	assert.Equal(t, "redis.local:6390", conf.Redis.Addr())
}

func TestMissingFileUsesDefaults(t *testing.T) {
	t.Setenv(BaseURLEnv, "")
	t.Setenv("PORT", "")

	conf, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, conf.Web.Port)
	assert.Equal(t, "memory", conf.Cache.Driver)
	assert.Equal(t, DefaultRenderTimeout, conf.Web.RenderTimeout)
}

func TestInvalidPort(t *testing.T) {
	t.Setenv("PORT", "eighty")

	_, err := LoadConfig("")
	require.Error(t, err)
}
