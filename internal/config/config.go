// Package config provides YAML configuration loading with validation and
// environment variable substitution for the resilience service.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"regexp"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dskow/resilience-core/internal/breaker"
)

// Config is the top-level service configuration.
type Config struct {
	Server   ServerConfig             `yaml:"server" json:"server"`
	Metrics  MetricsConfig            `yaml:"metrics" json:"metrics"`
	Logging  LoggingConfig            `yaml:"logging" json:"logging"`
	Redis    RedisConfig              `yaml:"redis" json:"redis"`
	Cache    CacheConfig              `yaml:"cache" json:"cache"`
	Partner  PartnerConfig            `yaml:"partner" json:"partner"`
	Breakers map[string]BreakerConfig `yaml:"breakers" json:"breakers"`
	Admin    AdminConfig              `yaml:"admin" json:"admin"`

	// Warnings holds non-fatal config issues detected during loading.
	// Stored on the Config itself (not a package-level var) so it is
	// safe to call Load concurrently from the hot-reload goroutine.
	Warnings []string `yaml:"-" json:"-"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port" json:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
// Enabled defaults to true; set to false to disable metrics.
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// IsEnabled returns whether metrics are enabled (defaults to true).
func (m MetricsConfig) IsEnabled() bool {
	if m.Enabled == nil {
		return true
	}
	return *m.Enabled
}

// LoggingConfig holds log output settings. Level is hot-reloadable.
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`             // "debug", "info", "warn", "error"; default: "info"
	Output     string `yaml:"output" json:"output"`           // "stdout", "stderr", or file path; default: "stdout"
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"` // max log file size before rotation; default: 100
	MaxBackups int    `yaml:"max_backups" json:"max_backups"` // number of rotated files to keep; default: 3
}

// ValidLogLevels are the accepted log level strings.
var ValidLogLevels = map[string]bool{
	"":      true, // empty means default ("info")
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// RedisConfig holds the remote cache connection settings.
type RedisConfig struct {
	Addr         string        `yaml:"addr" json:"addr"`
	Password     string        `yaml:"password" json:"password"`
	DB           int           `yaml:"db" json:"db"`
	DialTimeout  time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
}

// CacheConfig holds the cache wrapper settings (local secondary store and
// write-intent queue).
type CacheConfig struct {
	LocalCapacity  int           `yaml:"local_capacity" json:"local_capacity"`
	LocalTTL       time.Duration `yaml:"local_ttl" json:"local_ttl"`
	IntentCapacity int           `yaml:"intent_capacity" json:"intent_capacity"`
	ReplayInterval time.Duration `yaml:"replay_interval" json:"replay_interval"`
}

// PartnerConfig holds the partner API wrapper settings. StalenessWindow is
// hot-reloadable.
type PartnerConfig struct {
	BaseURL         string        `yaml:"base_url" json:"base_url"`
	StalenessWindow time.Duration `yaml:"staleness_window" json:"staleness_window"`
	HedgeDelay      time.Duration `yaml:"hedge_delay" json:"hedge_delay"` // 0 disables hedging
	MaxBodyBytes    int64         `yaml:"max_body_bytes" json:"max_body_bytes"`
}

// AdminConfig holds admin API settings.
type AdminConfig struct {
	Enabled     bool     `yaml:"enabled" json:"enabled"`           // default: false
	IPAllowlist []string `yaml:"ip_allowlist" json:"ip_allowlist"` // CIDR notation
}

// BreakerConfig holds per-dependency circuit breaker settings. Breakers are
// built once at startup; changing these requires a restart.
type BreakerConfig struct {
	FailureThreshold    int            `yaml:"failure_threshold" json:"failure_threshold"`
	ResetTimeout        time.Duration  `yaml:"reset_timeout" json:"reset_timeout"`
	OperationTimeout    time.Duration  `yaml:"operation_timeout" json:"operation_timeout"`
	MonitoringPeriod    time.Duration  `yaml:"monitoring_period" json:"monitoring_period"`
	SuccessesToClose    int            `yaml:"successes_to_close" json:"successes_to_close"`
	MaxHalfOpenRequests int            `yaml:"max_half_open_requests" json:"max_half_open_requests"`
	ProbeRateLimit      RateConfig     `yaml:"probe_rate_limit" json:"probe_rate_limit"`
	Adaptive            AdaptiveConfig `yaml:"adaptive" json:"adaptive"`
}

// RateConfig holds the token bucket settings gating half-open probes.
type RateConfig struct {
	Capacity        int     `yaml:"capacity" json:"capacity"`
	RefillPerSecond float64 `yaml:"refill_per_second" json:"refill_per_second"`
}

// AdaptiveConfig holds the adaptive threshold settings.
type AdaptiveConfig struct {
	Enabled bool    `yaml:"enabled" json:"enabled"`
	Min     float64 `yaml:"min" json:"min"`
	Max     float64 `yaml:"max" json:"max"`
	Rate    float64 `yaml:"rate" json:"rate"`
}

// ToOptions converts a BreakerConfig to breaker.Options.
func (b BreakerConfig) ToOptions() breaker.Options {
	return breaker.Options{
		FailureThreshold:    b.FailureThreshold,
		ResetTimeout:        b.ResetTimeout,
		OperationTimeout:    b.OperationTimeout,
		MonitoringPeriod:    b.MonitoringPeriod,
		SuccessesToClose:    b.SuccessesToClose,
		MaxHalfOpenRequests: b.MaxHalfOpenRequests,
		HalfOpenRateLimit: breaker.RateLimitOptions{
			Capacity:        b.ProbeRateLimit.Capacity,
			RefillPerSecond: b.ProbeRateLimit.RefillPerSecond,
		},
		Adaptive: breaker.AdaptiveOptions{
			Enabled: b.Adaptive.Enabled,
			Min:     b.Adaptive.Min,
			Max:     b.Adaptive.Max,
			Rate:    b.Adaptive.Rate,
		},
	}
}

// BreakerNames returns the configured breaker names, sorted for stable
// startup logging.
func (c *Config) BreakerNames() []string {
	names := make([]string, 0, len(c.Breakers))
	for name := range c.Breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var envVarRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns in s with the corresponding
// environment variable value.
func expandEnvVars(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		key := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		return match
	})
}

// Load reads and parses a YAML configuration file, applies environment
// variable substitution, sets defaults, and validates the result.
// Warnings are stored on cfg.Warnings (goroutine-safe, no package-level state).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses configuration from raw YAML bytes. Useful for testing.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	cfg.Warnings = collectWarnings(&cfg)

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 15 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 100
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 3
	}

	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Redis.DialTimeout == 0 {
		cfg.Redis.DialTimeout = 2 * time.Second
	}

	// Cache defaults
	if cfg.Cache.LocalCapacity == 0 {
		cfg.Cache.LocalCapacity = 1024
	}
	if cfg.Cache.LocalTTL == 0 {
		cfg.Cache.LocalTTL = 5 * time.Minute
	}
	if cfg.Cache.IntentCapacity == 0 {
		cfg.Cache.IntentCapacity = 256
	}
	if cfg.Cache.ReplayInterval == 0 {
		cfg.Cache.ReplayInterval = 15 * time.Second
	}

	// Partner defaults
	if cfg.Partner.StalenessWindow == 0 {
		cfg.Partner.StalenessWindow = 5 * time.Minute
	}
	if cfg.Partner.MaxBodyBytes == 0 {
		cfg.Partner.MaxBodyBytes = 1048576 // 1 MB
	}

	// Breaker defaults beyond what breaker.Options fills in itself.
	for name, b := range cfg.Breakers {
		if b.FailureThreshold == 0 {
			b.FailureThreshold = 5
		}
		if b.ResetTimeout == 0 {
			b.ResetTimeout = 30 * time.Second
		}
		cfg.Breakers[name] = b
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}

	if !ValidLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Output != "stdout" && cfg.Logging.Output != "stderr" {
		if cfg.Logging.MaxSizeMB < 1 {
			return fmt.Errorf("logging.max_size_mb must be positive when output is a file path")
		}
	}

	if cfg.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	if _, _, err := net.SplitHostPort(cfg.Redis.Addr); err != nil {
		return fmt.Errorf("redis.addr must be host:port, got %q: %w", cfg.Redis.Addr, err)
	}
	if cfg.Redis.DB < 0 {
		return fmt.Errorf("redis.db must be non-negative")
	}

	if cfg.Cache.LocalCapacity < 1 {
		return fmt.Errorf("cache.local_capacity must be positive")
	}
	if cfg.Cache.IntentCapacity < 1 {
		return fmt.Errorf("cache.intent_capacity must be positive")
	}
	if cfg.Cache.ReplayInterval < time.Second {
		return fmt.Errorf("cache.replay_interval must be at least 1s")
	}

	if cfg.Partner.BaseURL != "" {
		u, err := url.Parse(cfg.Partner.BaseURL)
		if err != nil {
			return fmt.Errorf("partner.base_url: invalid URL: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("partner.base_url: scheme must be http or https, got %q", u.Scheme)
		}
		if u.Host == "" {
			return fmt.Errorf("partner.base_url: host is required")
		}
	}
	if cfg.Partner.StalenessWindow < 0 {
		return fmt.Errorf("partner.staleness_window must be non-negative")
	}
	if cfg.Partner.HedgeDelay < 0 {
		return fmt.Errorf("partner.hedge_delay must be non-negative")
	}

	if len(cfg.Breakers) == 0 {
		return fmt.Errorf("at least one breaker must be configured")
	}
	for name, b := range cfg.Breakers {
		if name == "" {
			return fmt.Errorf("breaker names must be non-empty")
		}
		// Full range checks live in breaker.Options.Validate; catching the
		// common mistakes here yields config-shaped error messages.
		if b.FailureThreshold < 1 {
			return fmt.Errorf("breakers.%s.failure_threshold must be positive", name)
		}
		if b.ResetTimeout < time.Millisecond {
			return fmt.Errorf("breakers.%s.reset_timeout must be at least 1ms", name)
		}
		if b.MonitoringPeriod < 0 {
			return fmt.Errorf("breakers.%s.monitoring_period must be non-negative", name)
		}
		if b.Adaptive.Enabled && b.Adaptive.Min > b.Adaptive.Max && b.Adaptive.Max != 0 {
			return fmt.Errorf("breakers.%s.adaptive.min must not exceed adaptive.max", name)
		}
	}

	// Admin validation
	if cfg.Admin.Enabled {
		if len(cfg.Admin.IPAllowlist) == 0 {
			return fmt.Errorf("admin.ip_allowlist is required when admin is enabled")
		}
		for i, cidr := range cfg.Admin.IPAllowlist {
			if _, _, err := net.ParseCIDR(cidr); err != nil {
				return fmt.Errorf("admin.ip_allowlist[%d]: invalid CIDR %q: %w", i, cidr, err)
			}
		}
	}

	return nil
}

func collectWarnings(cfg *Config) []string {
	var warnings []string
	if envVarRe.MatchString(cfg.Redis.Password) {
		warnings = append(warnings, "redis.password contains unresolved environment variable")
	}
	if cfg.Partner.BaseURL == "" {
		warnings = append(warnings, "partner.base_url is empty; partner wrapper disabled")
	}
	return warnings
}
