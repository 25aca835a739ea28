package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ADHERENCE_STORAGE_PATH", filepath.Join(dir, "data", "adherence.bolt"))

	cfg, err := Load(filepath.Join(dir, "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.APIPort != 8001 {
		t.Errorf("expected api_port 8001, got %d", cfg.Server.APIPort)
	}
	if cfg.Storage.Type != "bolt" {
		t.Errorf("expected bolt storage, got %s", cfg.Storage.Type)
	}
	if cfg.Analytics.DefaultDays != 30 || cfg.Analytics.MaxDays != 365 {
		t.Errorf("unexpected analytics defaults: %+v", cfg.Analytics)
	}
	if _, err := os.Stat(filepath.Join(dir, "data")); err != nil {
		t.Errorf("expected storage directory to be created: %v", err)
	}
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  api_port: 9001
storage:
  type: redis
  redis:
    host: redis.internal
analytics:
  default_days: 14
mqtt:
  enabled: true
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("ADHERENCE_LOGGING_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.APIPort != 9001 {
		t.Errorf("expected api_port 9001, got %d", cfg.Server.APIPort)
	}
	if cfg.Storage.Type != "redis" || cfg.Storage.Redis.Host != "redis.internal" {
		t.Errorf("unexpected storage config: %+v", cfg.Storage)
	}
	if cfg.Storage.Redis.Port != 6379 {
		t.Errorf("expected default redis port, got %d", cfg.Storage.Redis.Port)
	}
	if cfg.Analytics.DefaultDays != 14 {
		t.Errorf("expected default_days 14, got %d", cfg.Analytics.DefaultDays)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected env override for logging.level, got %s", cfg.Logging.Level)
	}
	if !cfg.MQTT.Enabled || cfg.MQTT.Topic != "adherence/devices/+/usage" {
		t.Errorf("unexpected mqtt config: %+v", cfg.MQTT)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"bad api port", func(c *Config) { c.Server.APIPort = 70000 }, true},
		{"unknown storage", func(c *Config) { c.Storage.Type = "sqlite" }, true},
		{"postgres without dsn", func(c *Config) { c.Storage.Type = "postgres"; c.Storage.Postgres.DSN = "" }, true},
		{"default days above max", func(c *Config) { c.Analytics.DefaultDays = 400 }, true},
		{"zero queue", func(c *Config) { c.Realtime.QueueSize = 0 }, true},
		{"bad token expiration", func(c *Config) { c.Auth.TokenExpiration = "soon" }, true},
		{"mqtt bad qos", func(c *Config) { c.MQTT.Enabled = true; c.MQTT.QoS = 3 }, true},
		{"mqtt disabled ignores qos", func(c *Config) { c.MQTT.QoS = 3 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.Storage.Path = filepath.Join(t.TempDir(), "adherence.bolt")
			tt.mutate(cfg)

			err := validate(cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidKeys(t *testing.T) {
	keys := ValidKeys()
	for _, key := range []string{"server.api_port", "storage.redis.host", "storage.postgres.dsn", "mqtt.qos", "cache.identity_size"} {
		if !keys[key] {
			t.Errorf("expected %s to be a valid key", key)
		}
	}
	if keys["dns.upstream_servers"] {
		t.Error("unexpected key dns.upstream_servers")
	}
}

func TestParseDuration(t *testing.T) {
	if got := ParseDuration("2m", time.Second); got != 2*time.Minute {
		t.Errorf("expected 2m, got %v", got)
	}
	if got := ParseDuration("nope", time.Second); got != time.Second {
		t.Errorf("expected fallback, got %v", got)
	}
}
