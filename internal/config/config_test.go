package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewConfigDefaults verifies the documented defaults.
func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, ":4000", cfg.Port)
	assert.Equal(t, time.Second, cfg.Heartbeat.Interval)
	assert.Equal(t, 500*time.Millisecond, cfg.Heartbeat.Timeout)
	assert.Equal(t, 3, cfg.StoreRetries)
	assert.True(t, cfg.CookieSecure)
}

// TestSanitizeClampsHeartbeatTimeout ensures the response deadline always
// stays below the probe interval.
func TestSanitizeClampsHeartbeatTimeout(t *testing.T) {
	cfg := Config{Heartbeat: HeartbeatConfig{Interval: 2 * time.Second, Timeout: 5 * time.Second}}
	cfg.Sanitize()

	assert.Equal(t, 2*time.Second, cfg.Heartbeat.Interval)
	assert.Equal(t, time.Second, cfg.Heartbeat.Timeout)
	assert.Equal(t, ":4000", cfg.Port)
	assert.Equal(t, int64(16<<20), cfg.MaxMessageSize)
}

// TestSanitizeDropsBlankOrigins verifies whitespace-only origins are removed.
func TestSanitizeDropsBlankOrigins(t *testing.T) {
	cfg := Config{AllowedOrigins: []string{" http://a.test ", "", "  "}}
	cfg.Sanitize()

	assert.Equal(t, []string{"http://a.test"}, cfg.AllowedOrigins)
}

// TestNewConfigFromEnv verifies env overrides and their fallbacks.
func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", ":9999")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test, http://b.test")
	t.Setenv("MAX_MESSAGE_SIZE", "not-a-number")
	t.Setenv("RATE_LIMIT_BURST", "7")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "3")
	t.Setenv("HEARTBEAT_INTERVAL", "200ms")
	t.Setenv("HEARTBEAT_TIMEOUT", "50ms")
	t.Setenv("COOKIE_SECURE", "false")
	t.Setenv("JWT_SECRET", "s3cret")

	cfg := NewConfigFromEnv()

	assert.Equal(t, ":9999", cfg.Port)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.AllowedOrigins)
	assert.Equal(t, int64(16<<20), cfg.MaxMessageSize)
	assert.Equal(t, 7, cfg.RateLimit.Burst)
	assert.Equal(t, 3*time.Second, cfg.RateLimit.RefillInterval)
	assert.Equal(t, 200*time.Millisecond, cfg.Heartbeat.Interval)
	assert.Equal(t, 50*time.Millisecond, cfg.Heartbeat.Timeout)
	assert.False(t, cfg.CookieSecure)
	assert.Equal(t, "s3cret", cfg.JWTSecret)
}

// TestLoadWithoutFileUsesEnv verifies an empty path reads only the
// environment.
func TestLoadWithoutFileUsesEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", ":7777")
	t.Setenv("HEARTBEAT_INTERVAL", "4s")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, NewConfigFromEnv(), cfg)
	assert.Equal(t, ":7777", cfg.Port)
	assert.Equal(t, 4*time.Second, cfg.Heartbeat.Interval)
}

// TestLoadYAMLFile verifies that a YAML file is applied and env still wins.
func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pairchat.yaml")
	content := []byte(`port: ":5000"
data_dir: /var/lib/pairchat
heartbeat:
  interval: 3s
  timeout: 1s
rate_limit:
  burst: 20
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))
	t.Setenv("DATA_DIR", "/tmp/override")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":5000", cfg.Port)
	assert.Equal(t, "/tmp/override", cfg.DataDir)
	assert.Equal(t, 3*time.Second, cfg.Heartbeat.Interval)
	assert.Equal(t, time.Second, cfg.Heartbeat.Timeout)
	assert.Equal(t, 20, cfg.RateLimit.Burst)
}

// TestLoadMissingFile verifies that an explicit but absent file is an error.
func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

// TestValidate rejects the dev secret outside dev mode.
func TestValidate(t *testing.T) {
	cfg := NewConfig()
	assert.Error(t, cfg.Validate())

	cfg.Dev = true
	assert.NoError(t, cfg.Validate())

	cfg.Dev = false
	cfg.JWTSecret = "real-secret"
	assert.NoError(t, cfg.Validate())
}
