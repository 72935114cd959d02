package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	w := cfg.Webhooks
	if w.BaseDelay != 30*time.Second || w.MaxDelay != time.Hour || w.MaxAttempts != 5 || w.DeactivationThreshold != 3 || w.Timeout != 10*time.Second {
		t.Fatalf("unexpected webhook defaults: %+v", w)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte(`
server:
  port: 9090
webhooks:
  maxAttempts: 7
  baseDelay: 10s
  maxDelay: 20m
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("WEBHOOK_MAX_ATTEMPTS", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Fatalf("port from file: got %d", cfg.Server.Port)
	}
	if cfg.Webhooks.BaseDelay != 10*time.Second || cfg.Webhooks.MaxDelay != 20*time.Minute {
		t.Fatalf("durations from file: %+v", cfg.Webhooks)
	}
	if cfg.Webhooks.MaxAttempts != 3 {
		t.Fatalf("env should override file: got %d", cfg.Webhooks.MaxAttempts)
	}
}

func TestValidateProductionRequirements(t *testing.T) {
	cfg := Default()
	cfg.Server.Env = "production"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("dev auth must be rejected in production")
	}
	cfg.Auth.Mode = "hmac"
	cfg.Auth.HMACSecret = "s3cret"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("missing WEBHOOK_SECRET_KEY must be rejected in production")
	}
	cfg.Webhooks.SecretKey = "0123456789abcdef0123456789abcdef"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid production config rejected: %v", err)
	}
}

func TestValidateRejectsLargeJitter(t *testing.T) {
	cfg := Default()
	cfg.Webhooks.Jitter = 0.5
	if err := cfg.Validate(); err == nil {
		t.Fatalf("jitter above 1/3 must be rejected")
	}
}
