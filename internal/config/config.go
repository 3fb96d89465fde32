// Package config provides the runtime defaults, file/env loading and
// sanitisation rules for the pairchat service.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DevSecret is the signing secret used when none is configured. Validate
// rejects it unless Dev is set.
const DevSecret = "pairchat-dev-secret-change-me"

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `yaml:"burst"`
	RefillInterval time.Duration `yaml:"refill_interval"`
}

// HeartbeatConfig controls the liveness probe cadence. Timeout must be
// shorter than Interval.
type HeartbeatConfig struct {
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Config holds the server configuration settings.
type Config struct {
	Port           string          `yaml:"port"`
	AllowedOrigins []string        `yaml:"allowed_origins"`
	MaxMessageSize int64           `yaml:"max_message_size"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
	Heartbeat      HeartbeatConfig `yaml:"heartbeat"`
	SendBuffer     int             `yaml:"send_buffer"`

	JWTSecret    string        `yaml:"jwt_secret"`
	TokenTTL     time.Duration `yaml:"token_ttl"`
	CookieSecure bool          `yaml:"cookie_secure"`

	DataDir      string `yaml:"data_dir"`
	UploadDir    string `yaml:"upload_dir"`
	StoreRetries int    `yaml:"store_retries"`

	LogFormat string `yaml:"log_format"`
	LogLevel  string `yaml:"log_level"`

	Dev bool `yaml:"dev"`
}

func defaultConfig() Config {
	return Config{
		Port: ":4000",
		AllowedOrigins: []string{
			"http://localhost:5173",
		},
		MaxMessageSize: 16 << 20,
		RateLimit: RateLimitConfig{
			Burst:          10,
			RefillInterval: time.Second,
		},
		Heartbeat: HeartbeatConfig{
			Interval: time.Second,
			Timeout:  time.Second / 2,
		},
		SendBuffer:   256,
		JWTSecret:    DevSecret,
		TokenTTL:     7 * 24 * time.Hour,
		CookieSecure: true,
		DataDir:      "data",
		UploadDir:    "uploads",
		StoreRetries: 3,
		LogFormat:    "text",
		LogLevel:     "info",
	}
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// Sanitize replaces invalid or missing values with defaults. The heartbeat
// timeout is clamped below the interval.
func (c *Config) Sanitize() {
	def := defaultConfig()

	if c.Port == "" {
		c.Port = def.Port
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = def.RateLimit.Burst
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if c.Heartbeat.Interval <= 0 {
		c.Heartbeat.Interval = def.Heartbeat.Interval
	}
	if c.Heartbeat.Timeout <= 0 || c.Heartbeat.Timeout >= c.Heartbeat.Interval {
		c.Heartbeat.Timeout = c.Heartbeat.Interval / 2
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = def.SendBuffer
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = def.TokenTTL
	}
	if c.DataDir == "" {
		c.DataDir = def.DataDir
	}
	if c.UploadDir == "" {
		c.UploadDir = def.UploadDir
	}
	if c.StoreRetries <= 0 {
		c.StoreRetries = def.StoreRetries
	}
	if c.JWTSecret == "" {
		c.JWTSecret = def.JWTSecret
	}

	origins := c.AllowedOrigins[:0]
	for _, origin := range c.AllowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	c.AllowedOrigins = origins
}

// Validate reports configuration that must not reach production.
func (c *Config) Validate() error {
	if !c.Dev && c.JWTSecret == DevSecret {
		return errors.New("JWT_SECRET must be set outside dev mode")
	}
	if c.Heartbeat.Timeout >= c.Heartbeat.Interval {
		return fmt.Errorf("heartbeat timeout %s must be shorter than interval %s", c.Heartbeat.Timeout, c.Heartbeat.Interval)
	}
	return nil
}

// Load builds a Config from defaults, a .env file, an optional YAML file at
// path and environment variables, in that order of precedence (later wins).
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, relying on environment variables")
	}

	if path == "" {
		return NewConfigFromEnv(), nil
	}

	cfg := defaultConfig()
	if err := loadFile(path, &cfg); err != nil {
		return nil, err
	}
	applyEnv(&cfg)
	cfg.Sanitize()
	return &cfg, nil
}

// NewConfigFromEnv creates a Config from environment variables, falling back
// to defaults for unset ones. It does not read .env or a config file.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()
	applyEnv(&cfg)
	cfg.Sanitize()
	return &cfg
}

func loadFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}
	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseInt64Value(maxSize, cfg.MaxMessageSize)
	}
	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}
	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseDuration(interval, cfg.RateLimit.RefillInterval)
	}
	if interval := os.Getenv("HEARTBEAT_INTERVAL"); interval != "" {
		cfg.Heartbeat.Interval = parseDuration(interval, cfg.Heartbeat.Interval)
	}
	if timeout := os.Getenv("HEARTBEAT_TIMEOUT"); timeout != "" {
		cfg.Heartbeat.Timeout = parseDuration(timeout, cfg.Heartbeat.Timeout)
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.JWTSecret = secret
	}
	if ttl := os.Getenv("TOKEN_TTL"); ttl != "" {
		cfg.TokenTTL = parseDuration(ttl, cfg.TokenTTL)
	}
	if secure := os.Getenv("COOKIE_SECURE"); secure != "" {
		cfg.CookieSecure = parseBool(secure, cfg.CookieSecure)
	}
	if dir := os.Getenv("DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}
	if dir := os.Getenv("UPLOAD_DIR"); dir != "" {
		cfg.UploadDir = dir
	}
	if retries := os.Getenv("STORE_RETRIES"); retries != "" {
		cfg.StoreRetries = parseIntValue(retries, cfg.StoreRetries)
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.LogFormat = format
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if dev := os.Getenv("PAIRCHAT_DEV"); dev != "" {
		cfg.Dev = parseBool(dev, cfg.Dev)
	}
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseInt64Value(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseDuration accepts Go duration strings ("500ms") and bare integers,
// which are read as seconds for compatibility with the older env format.
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}

func parseBool(value string, defaultValue bool) bool {
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	return defaultValue
}
