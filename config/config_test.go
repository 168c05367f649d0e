package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 60*time.Minute, cfg.Detection.FailedLoginWindow)
	assert.Equal(t, 8, cfg.Detection.FailedPerUser)
	assert.Equal(t, 20, cfg.Detection.FailedPerIP)
	assert.Equal(t, 2.0, cfg.Detection.HighMultiplier)
	assert.Equal(t, 90*time.Minute, cfg.Detection.ImpossibleTravelWindow)
	assert.Equal(t, "okta-logs.txt", cfg.Grounding.DataFile)
	assert.Equal(t, 15, cfg.Grounding.MaxSignals)
	assert.Equal(t, 60*time.Second, cfg.Generation.Timeout)
	assert.Equal(t, uint32(3), cfg.Generation.CircuitBreaker.MaxFailures)
	assert.Equal(t, "127.0.0.1:8090", cfg.APIAddr())
	assert.Equal(t, int64(10*1024*1024), cfg.API.BodyLimit)

	assert.NoError(t, validateConfig(cfg))
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "warden.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
detection:
  failed_per_user: 5
  failed_login_window: 30m
grounding:
  data_file: logs/okta.jsonl
redis:
  enabled: true
  addr: redis:6379
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 5, cfg.Detection.FailedPerUser)
	assert.Equal(t, 30*time.Minute, cfg.Detection.FailedLoginWindow)
	assert.Equal(t, 20, cfg.Detection.FailedPerIP, "unset keys keep defaults")
	assert.Equal(t, "logs/okta.jsonl", cfg.Grounding.DataFile)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "warden:findings", cfg.Redis.Key)
}

func TestLoadConfig_Env(t *testing.T) {
	t.Setenv("WARDEN_API_PORT", "9999")
	t.Setenv("WARDEN_DETECTION_FAILED_PER_IP", "42")

	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.API.Port)
	assert.Equal(t, 42, cfg.Detection.FailedPerIP)
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
		{"zero threshold", func(c *Config) { c.Detection.FailedPerUser = 0 }},
		{"low multiplier", func(c *Config) { c.Detection.HighMultiplier = 0.5 }},
		{"data file with space", func(c *Config) { c.Grounding.DataFile = "okta logs.txt" }},
		{"data file with metachar", func(c *Config) { c.Grounding.DataFile = "x;rm" }},
		{"empty data file", func(c *Config) { c.Grounding.DataFile = "" }},
		{"zero signals", func(c *Config) { c.Grounding.MaxSignals = 0 }},
		{"bad port", func(c *Config) { c.API.Port = 70000 }},
		{"storage without path", func(c *Config) { c.Storage.Enabled = true; c.Storage.SQLitePath = "" }},
		{"redis without addr", func(c *Config) { c.Redis.Enabled = true; c.Redis.Addr = "" }},
		{"breaker zero failures", func(c *Config) { c.Generation.CircuitBreaker.MaxFailures = 0 }},
		{"zero generation timeout", func(c *Config) { c.Generation.Timeout = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, validateConfig(cfg))
		})
	}
}
