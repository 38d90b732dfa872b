package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
	assert.Equal(t, "/_matrix/client", cfg.Bridge.Prefix)
	assert.Equal(t, 30, cfg.Supervisor.ReadyAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.Supervisor.ReadyInterval)
	assert.Equal(t, 30*time.Second, cfg.Store.FlushInterval)
	assert.Empty(t, cfg.Upstream.Origin)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMatchesDefault(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"PORT":                "9000",
		"HOST":                "127.0.0.1",
		"BRIDGE_MANIFEST":     "/srv/dendrite/manifest.yaml",
		"BRIDGE_PREFIX":       "/api",
		"READY_ATTEMPTS":      "50",
		"READY_INTERVAL":      "250ms",
		"STORE_PATH":          "/var/lib/meshbridge/bridge.db",
		"FLUSH_INTERVAL":      "5s",
		"UPSTREAM_ORIGIN":     "https://matrix.example.org",
		"LOG_LEVEL":           "debug",
		"LOG_DEV":             "true",
		"RATE_LIMIT_ENABLED":  "false",
		"CORS_ORIGINS":        "https://app.example.org,https://beta.example.org",
		"BRIDGE_CALL_TIMEOUT": "2m",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Addr())
	assert.Equal(t, "/srv/dendrite/manifest.yaml", cfg.Bridge.Manifest)
	assert.Equal(t, "/api", cfg.Bridge.Prefix)
	assert.Equal(t, 2*time.Minute, cfg.Bridge.CallTimeout)
	assert.Equal(t, 50, cfg.Supervisor.ReadyAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Supervisor.ReadyInterval)
	assert.Equal(t, "/var/lib/meshbridge/bridge.db", cfg.Store.Path)
	assert.Equal(t, 5*time.Second, cfg.Store.FlushInterval)
	assert.Equal(t, "https://matrix.example.org", cfg.Upstream.Origin)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.Equal(t, []string{"https://app.example.org", "https://beta.example.org"}, cfg.CORS.AllowOrigins)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "prefix without slash", key: "BRIDGE_PREFIX", val: "_matrix"},
		{name: "zero attempts", key: "READY_ATTEMPTS", val: "0"},
		{name: "bad duration", key: "FLUSH_INTERVAL", val: "soon"},
		{name: "bad number", key: "READY_ATTEMPTS", val: "many"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)

			_, err := Load()
			assert.Error(t, err)

			cfg := LoadOrDefault()
			assert.Equal(t, Default(), cfg)
		})
	}
}
