package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 8080, cfg.APIPort)
	assert.Equal(t, 3, cfg.RateLimitMaxCalls)
	assert.Equal(t, 10, cfg.HoldMaxHardSec)
	assert.Equal(t, []string{"virtual"}, cfg.PreferredTerminalTypes)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	content := `
log_level: debug
api_port: 9090
client_id: test-client
client_secret: test-secret
rate_limit_max_calls: 5
hold_max_hard_sec: 8
`
	require.NoError(t, os.WriteFile(file, []byte(content), 0o644))

	cfg, err := Load(file)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 9090, cfg.APIPort)
	assert.Equal(t, 5, cfg.RateLimitMaxCalls)
	assert.Equal(t, 8, cfg.HoldMaxHardSec)
	assert.True(t, cfg.HasCredentials())

	// Unset fields keep their defaults
	assert.Equal(t, "0.0.0.0", cfg.APIHost)
	assert.Equal(t, 30, cfg.IdempotencyTTLSec)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("LIFTBRIDGE_API_PORT", "7070")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.APIPort)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		valid  bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"missing ws endpoint", func(c *Config) { c.WSEndpoint = "" }, false},
		{"missing token url", func(c *Config) { c.TokenURL = "" }, false},
		{"zero rate window", func(c *Config) { c.RateLimitWindowMs = 0 }, false},
		{"zero max calls", func(c *Config) { c.RateLimitMaxCalls = 0 }, false},
		{"hold hard cap exceeded", func(c *Config) { c.HoldMaxHardSec = 11 }, false},
		{"hold hard cap zero", func(c *Config) { c.HoldMaxHardSec = 0 }, false},
		{"bad binding driver", func(c *Config) { c.BindingDriver = "mysql" }, false},
		{"postgres driver", func(c *Config) { c.BindingDriver = "postgres" }, true},
		{"empty binding driver", func(c *Config) { c.BindingDriver = "" }, true},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 10*time.Second, cfg.RateLimitWindow())
	assert.Equal(t, 30*time.Second, cfg.IdempotencyTTL())
}

func TestHasCredentials(t *testing.T) {
	cfg := DefaultConfig()
	assert.False(t, cfg.HasCredentials())

	cfg.ClientID = "id"
	assert.False(t, cfg.HasCredentials())

	cfg.ClientSecret = "secret"
	assert.True(t, cfg.HasCredentials())
}
