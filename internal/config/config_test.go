package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalYAML = `
redis:
  addr: "localhost:6379"
breakers:
  cache-redis:
    failure_threshold: 5
    reset_timeout: 30s
`

func TestLoadFromBytes_Minimal(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected default level info, got %q", cfg.Logging.Level)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("expected default metrics path, got %q", cfg.Metrics.Path)
	}
	if !cfg.Metrics.IsEnabled() {
		t.Error("metrics should default to enabled")
	}
	if cfg.Cache.LocalCapacity != 1024 {
		t.Errorf("expected default local capacity, got %d", cfg.Cache.LocalCapacity)
	}
	if cfg.Partner.StalenessWindow != 5*time.Minute {
		t.Errorf("expected default staleness window, got %v", cfg.Partner.StalenessWindow)
	}
}

func TestLoadFromBytes_FullConfig(t *testing.T) {
	yaml := `
server:
  port: 9090
  shutdown_timeout: 5s
logging:
  level: debug
redis:
  addr: "redis.internal:6379"
  db: 2
cache:
  local_capacity: 512
  replay_interval: 30s
partner:
  base_url: "https://api.partner.example.com"
  staleness_window: 2m
  hedge_delay: 50ms
breakers:
  cache-redis:
    failure_threshold: 3
    reset_timeout: 10s
    monitoring_period: 60s
  partner-quotes:
    failure_threshold: 5
    reset_timeout: 30s
    adaptive:
      enabled: true
      min: 2
      max: 10
admin:
  enabled: true
  ip_allowlist: ["127.0.0.0/8"]
`
	cfg, err := LoadFromBytes([]byte(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Partner.HedgeDelay != 50*time.Millisecond {
		t.Errorf("expected hedge delay 50ms, got %v", cfg.Partner.HedgeDelay)
	}

	b, ok := cfg.Breakers["partner-quotes"]
	if !ok {
		t.Fatal("expected partner-quotes breaker")
	}
	if !b.Adaptive.Enabled || b.Adaptive.Max != 10 {
		t.Errorf("unexpected adaptive config: %+v", b.Adaptive)
	}

	opts := b.ToOptions()
	if opts.FailureThreshold != 5 || !opts.Adaptive.Enabled {
		t.Errorf("ToOptions lost fields: %+v", opts)
	}
	if err := opts.Validate(); err != nil {
		t.Errorf("converted options must validate: %v", err)
	}

	names := cfg.BreakerNames()
	if len(names) != 2 || names[0] != "cache-redis" || names[1] != "partner-quotes" {
		t.Errorf("unexpected breaker names %v", names)
	}
}

func TestLoadFromBytes_EnvExpansion(t *testing.T) {
	os.Setenv("TEST_REDIS_ADDR", "10.0.0.5:6379")
	defer os.Unsetenv("TEST_REDIS_ADDR")

	yaml := `
redis:
  addr: "${TEST_REDIS_ADDR}"
breakers:
  cache-redis:
    failure_threshold: 5
    reset_timeout: 30s
`
	cfg, err := LoadFromBytes([]byte(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Redis.Addr != "10.0.0.5:6379" {
		t.Errorf("expected env-expanded addr, got %q", cfg.Redis.Addr)
	}
}

func TestLoadFromBytes_UnresolvedEnvWarns(t *testing.T) {
	yaml := `
redis:
  addr: "localhost:6379"
  password: "${UNSET_SECRET_VAR_12345}"
breakers:
  cache-redis:
    failure_threshold: 5
    reset_timeout: 30s
`
	cfg, err := LoadFromBytes([]byte(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := false
	for _, w := range cfg.Warnings {
		if strings.Contains(w, "redis.password") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected unresolved-env warning, got %v", cfg.Warnings)
	}
}

func TestLoadFromBytes_ValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "bad port",
			yaml: `
server:
  port: 70000
redis:
  addr: "localhost:6379"
breakers:
  cache-redis: {failure_threshold: 5, reset_timeout: 30s}
`,
			want: "server.port",
		},
		{
			name: "bad log level",
			yaml: `
logging:
  level: verbose
redis:
  addr: "localhost:6379"
breakers:
  cache-redis: {failure_threshold: 5, reset_timeout: 30s}
`,
			want: "logging.level",
		},
		{
			name: "bad redis addr",
			yaml: `
redis:
  addr: "not-a-hostport"
breakers:
  cache-redis: {failure_threshold: 5, reset_timeout: 30s}
`,
			want: "redis.addr",
		},
		{
			name: "no breakers",
			yaml: `
redis:
  addr: "localhost:6379"
`,
			want: "at least one breaker",
		},
		{
			name: "bad partner scheme",
			yaml: `
redis:
  addr: "localhost:6379"
partner:
  base_url: "ftp://files.example.com"
breakers:
  cache-redis: {failure_threshold: 5, reset_timeout: 30s}
`,
			want: "partner.base_url",
		},
		{
			name: "admin without allowlist",
			yaml: `
redis:
  addr: "localhost:6379"
breakers:
  cache-redis: {failure_threshold: 5, reset_timeout: 30s}
admin:
  enabled: true
`,
			want: "admin.ip_allowlist",
		},
		{
			name: "bad cidr",
			yaml: `
redis:
  addr: "localhost:6379"
breakers:
  cache-redis: {failure_threshold: 5, reset_timeout: 30s}
admin:
  enabled: true
  ip_allowlist: ["not-a-cidr"]
`,
			want: "invalid CIDR",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(tc.yaml))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := cfg.Breakers["cache-redis"]; !ok {
		t.Error("expected cache-redis breaker")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
