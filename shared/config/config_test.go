package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENV", "test")
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("HTTP_PORT", "")
	t.Setenv("THROTTLE_TTL_SECONDS", "")

	cfg, problems := Load("api", 4000)
	if len(problems) != 0 {
		t.Fatalf("expected no problems, got %+v", problems)
	}
	if cfg.Env != "test" {
		t.Fatalf("expected env test, got %q", cfg.Env)
	}
	if cfg.ServiceName != "api" {
		t.Fatalf("expected service api, got %q", cfg.ServiceName)
	}
	if cfg.HTTPPort != 4000 {
		t.Fatalf("expected port 4000, got %d", cfg.HTTPPort)
	}
	if cfg.ThrottleTTLSeconds != 60 {
		t.Fatalf("expected throttle ttl 60, got %d", cfg.ThrottleTTLSeconds)
	}
	if cfg.AlertThresholdHours != 24 {
		t.Fatalf("expected alert threshold 24, got %d", cfg.AlertThresholdHours)
	}
	if cfg.KafkaStatusTopic != "container.status" {
		t.Fatalf("unexpected status topic %q", cfg.KafkaStatusTopic)
	}
}

func TestLoadMissingEnvIsProblem(t *testing.T) {
	t.Setenv("ENV", "")
	t.Setenv("CONFIG_PATH", "")

	cfg, problems := Load("api", 4000)
	if cfg.Env != "dev" {
		t.Fatalf("expected fallback env dev, got %q", cfg.Env)
	}
	found := false
	for _, p := range problems {
		if p.Field == "ENV" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected ENV problem, got %+v", problems)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ENV", "test")
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("HTTP_PORT", "9091")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("THROTTLE_TTL_SECONDS", "30")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("ALERT_THRESHOLD_HOURS", "48")

	cfg, problems := Load("api", 4000)
	if len(problems) != 0 {
		t.Fatalf("expected no problems, got %+v", problems)
	}
	if cfg.HTTPPort != 9091 {
		t.Fatalf("expected port 9091, got %d", cfg.HTTPPort)
	}
	if cfg.JWTSecret != "s3cret" {
		t.Fatalf("unexpected jwt secret %q", cfg.JWTSecret)
	}
	if cfg.ThrottleTTLSeconds != 30 {
		t.Fatalf("expected throttle ttl 30, got %d", cfg.ThrottleTTLSeconds)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("unexpected brokers %+v", cfg.KafkaBrokers)
	}
	if cfg.AlertThresholdHours != 48 {
		t.Fatalf("expected alert threshold 48, got %d", cfg.AlertThresholdHours)
	}
}

func TestLoadInvalidValues(t *testing.T) {
	t.Setenv("ENV", "test")
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("HTTP_PORT", "70000")
	t.Setenv("THROTTLE_TTL_SECONDS", "0")

	cfg, problems := Load("api", 4000)
	if cfg.HTTPPort != 4000 {
		t.Fatalf("expected fallback port 4000, got %d", cfg.HTTPPort)
	}
	if cfg.ThrottleTTLSeconds != 60 {
		t.Fatalf("expected fallback throttle ttl 60, got %d", cfg.ThrottleTTLSeconds)
	}
	fields := map[string]bool{}
	for _, p := range problems {
		fields[p.Field] = true
	}
	if !fields["HTTP_PORT"] || !fields["THROTTLE_TTL_SECONDS"] {
		t.Fatalf("expected HTTP_PORT and THROTTLE_TTL_SECONDS problems, got %+v", problems)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.json")
	body := `{
  "ENV": "test",
  "HTTP_PORT": 8088,
  "REDIS_ADDR": "redis:6379",
  "KAFKA_BROKERS": ["k1:9092", "k2:9092"],
  "ALERT_THRESHOLD_HOURS": 12
}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv("ENV", "")
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("HTTP_PORT", "")

	cfg, problems := Load("api", 4000)
	if len(problems) != 0 {
		t.Fatalf("expected no problems, got %+v", problems)
	}
	if cfg.Env != "test" {
		t.Fatalf("expected env test from file, got %q", cfg.Env)
	}
	if cfg.HTTPPort != 8088 {
		t.Fatalf("expected port 8088, got %d", cfg.HTTPPort)
	}
	if cfg.RedisAddr != "redis:6379" {
		t.Fatalf("unexpected redis addr %q", cfg.RedisAddr)
	}
	if len(cfg.KafkaBrokers) != 2 {
		t.Fatalf("unexpected brokers %+v", cfg.KafkaBrokers)
	}
	if cfg.AlertThresholdHours != 12 {
		t.Fatalf("expected alert threshold 12, got %d", cfg.AlertThresholdHours)
	}
}

func TestEnvBeatsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.json")
	if err := os.WriteFile(path, []byte(`{"ENV":"test","HTTP_PORT":8088}`), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv("ENV", "test")
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("HTTP_PORT", "9999")

	cfg, problems := Load("api", 4000)
	if len(problems) != 0 {
		t.Fatalf("expected no problems, got %+v", problems)
	}
	if cfg.HTTPPort != 9999 {
		t.Fatalf("expected env override 9999, got %d", cfg.HTTPPort)
	}
}
