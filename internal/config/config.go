package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the service. Values come from the
// defaults below, then an optional YAML file (CONFIG_FILE), then the environment.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Logging  LoggingConfig  `yaml:"logging"`
	Auth     AuthConfig     `yaml:"auth"`
	Rate     RateConfig     `yaml:"rate"`
	Webhooks WebhookConfig  `yaml:"webhooks"`
}

type ServerConfig struct {
	Port              int           `yaml:"port"`
	Env               string        `yaml:"env"`
	ReadHeaderTimeout time.Duration `yaml:"readHeaderTimeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdownTimeout"`
}

type DatabaseConfig struct {
	URL     string `yaml:"url"`
	Migrate bool   `yaml:"migrate"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type AuthConfig struct {
	Mode       string `yaml:"mode"` // dev or hmac
	HMACSecret string `yaml:"hmacSecret"`
	OrgClaim   string `yaml:"orgClaim"`
	RoleClaim  string `yaml:"roleClaim"`
}

type RateConfig struct {
	RPS   float64 `yaml:"rps"` // 0 disables limiting
	Burst int     `yaml:"burst"`
}

type WebhookConfig struct {
	Workers               int           `yaml:"workers"`
	QueueSize             int           `yaml:"queueSize"`
	Timeout               time.Duration `yaml:"timeout"`
	BaseDelay             time.Duration `yaml:"baseDelay"`
	MaxDelay              time.Duration `yaml:"maxDelay"`
	MaxAttempts           int           `yaml:"maxAttempts"`
	Jitter                float64       `yaml:"jitter"`
	DeactivationThreshold int           `yaml:"deactivationThreshold"`
	PollInterval          time.Duration `yaml:"pollInterval"`
	LogRetention          time.Duration `yaml:"logRetention"`
	JanitorInterval       time.Duration `yaml:"janitorInterval"`
	SecretKey             string        `yaml:"secretKey"` // hex or raw, 32 bytes; seals secrets at rest
	UserAgent             string        `yaml:"userAgent"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server:   ServerConfig{Port: 8080, Env: "development", ReadHeaderTimeout: 5 * time.Second, ShutdownTimeout: 15 * time.Second},
		Database: DatabaseConfig{Migrate: true},
		Logging:  LoggingConfig{Level: "info", Format: "console"},
		Auth:     AuthConfig{Mode: "dev", OrgClaim: "org", RoleClaim: "role"},
		Rate:     RateConfig{RPS: 20, Burst: 40},
		Webhooks: WebhookConfig{
			Workers:               64,
			QueueSize:             1024,
			Timeout:               10 * time.Second,
			BaseDelay:             30 * time.Second,
			MaxDelay:              time.Hour,
			MaxAttempts:           5,
			Jitter:                0.2,
			DeactivationThreshold: 3,
			PollInterval:          time.Second,
			LogRetention:          30 * 24 * time.Hour,
			JanitorInterval:       time.Hour,
			UserAgent:             "meetinghooks/1.0",
		},
	}
}

// Load builds the configuration and validates it.
func Load() (*Config, error) {
	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(c *Config) {
	c.Server.Port = getEnvInt("PORT", c.Server.Port)
	c.Server.Env = getEnv("APP_ENV", c.Server.Env)
	c.Database.URL = getEnv("DATABASE_URL", c.Database.URL)
	c.Database.Migrate = getEnvBool("DB_MIGRATE", c.Database.Migrate)
	c.Redis.URL = getEnv("REDIS_URL", c.Redis.URL)
	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("LOG_FORMAT", c.Logging.Format)
	c.Auth.Mode = strings.ToLower(getEnv("AUTH_MODE", c.Auth.Mode))
	c.Auth.HMACSecret = getEnv("AUTH_HMAC_SECRET", c.Auth.HMACSecret)
	c.Auth.OrgClaim = getEnv("AUTH_ORG_CLAIM", c.Auth.OrgClaim)
	c.Auth.RoleClaim = getEnv("AUTH_ROLE_CLAIM", c.Auth.RoleClaim)
	c.Rate.RPS = getEnvFloat("RATE_RPS", c.Rate.RPS)
	c.Rate.Burst = getEnvInt("RATE_BURST", c.Rate.Burst)

	w := &c.Webhooks
	w.Workers = getEnvInt("WEBHOOK_WORKERS", w.Workers)
	w.QueueSize = getEnvInt("WEBHOOK_QUEUE_SIZE", w.QueueSize)
	w.Timeout = getEnvDuration("WEBHOOK_TIMEOUT", w.Timeout)
	w.BaseDelay = getEnvDuration("WEBHOOK_BASE_DELAY", w.BaseDelay)
	w.MaxDelay = getEnvDuration("WEBHOOK_MAX_DELAY", w.MaxDelay)
	w.MaxAttempts = getEnvInt("WEBHOOK_MAX_ATTEMPTS", w.MaxAttempts)
	w.Jitter = getEnvFloat("WEBHOOK_JITTER", w.Jitter)
	w.DeactivationThreshold = getEnvInt("WEBHOOK_DEACTIVATION_THRESHOLD", w.DeactivationThreshold)
	w.PollInterval = getEnvDuration("WEBHOOK_POLL_INTERVAL", w.PollInterval)
	w.LogRetention = getEnvDuration("WEBHOOK_LOG_RETENTION", w.LogRetention)
	w.JanitorInterval = getEnvDuration("WEBHOOK_JANITOR_INTERVAL", w.JanitorInterval)
	w.SecretKey = getEnv("WEBHOOK_SECRET_KEY", w.SecretKey)
	w.UserAgent = getEnv("WEBHOOK_USER_AGENT", w.UserAgent)
}

// Validate checks that required configuration is present and sane
func (c *Config) Validate() error {
	w := c.Webhooks
	switch {
	case c.Server.Port <= 0:
		return fmt.Errorf("invalid port %d", c.Server.Port)
	case w.Workers <= 0:
		return fmt.Errorf("WEBHOOK_WORKERS must be > 0")
	case w.QueueSize <= 0:
		return fmt.Errorf("WEBHOOK_QUEUE_SIZE must be > 0")
	case w.MaxAttempts <= 0:
		return fmt.Errorf("WEBHOOK_MAX_ATTEMPTS must be > 0")
	case w.BaseDelay <= 0 || w.MaxDelay < w.BaseDelay:
		return fmt.Errorf("backoff delays must satisfy 0 < base <= max")
	case w.Jitter < 0 || w.Jitter > 1.0/3:
		return fmt.Errorf("WEBHOOK_JITTER must be within [0, 0.33]")
	case w.DeactivationThreshold < 0:
		return fmt.Errorf("WEBHOOK_DEACTIVATION_THRESHOLD must be >= 0")
	case w.Timeout <= 0:
		return fmt.Errorf("WEBHOOK_TIMEOUT must be > 0")
	}
	if c.Auth.Mode != "dev" && c.Auth.Mode != "hmac" {
		return fmt.Errorf("unsupported AUTH_MODE %q", c.Auth.Mode)
	}
	if c.Server.Env == "production" {
		if c.Auth.Mode == "dev" {
			return fmt.Errorf("AUTH_MODE=dev is not allowed in production")
		}
		if c.Auth.HMACSecret == "" {
			return fmt.Errorf("AUTH_HMAC_SECRET is required in production")
		}
		if w.SecretKey == "" {
			return fmt.Errorf("WEBHOOK_SECRET_KEY is required in production")
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
