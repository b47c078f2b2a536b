// Package config handles YAML configuration loading with environment variable
// expansion, plus the runtime channel registry.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"time"

	"go.yaml.in/yaml/v3"

	gateway "github.com/smartai/router/internal"
)

// minAPIKeyLen is the shortest api_key accepted for an enabled channel.
// Shorter keys force-disable the channel with a warning.
const minAPIKeyLen = 10

// Config is the top-level gateway configuration.
type Config struct {
	Server      ServerConfig                `yaml:"server"`
	Auth        AuthConfig                  `yaml:"auth"`
	Providers   map[string]gateway.Provider `yaml:"providers"`
	Channels    []*gateway.Channel          `yaml:"channels"`
	ModelGroups map[string]ModelGroup       `yaml:"model_groups"`
	Routing     RoutingConfig               `yaml:"routing"`
	Tasks       TasksConfig                 `yaml:"tasks"`
	Storage     StorageConfig               `yaml:"storage"`
	Telemetry   TelemetryConfig             `yaml:"telemetry"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Debug           bool          `yaml:"debug"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// AuthConfig holds client authentication settings.
type AuthConfig struct {
	Enabled  bool        `yaml:"enabled"`
	APIToken string      `yaml:"api_token"`
	Admin    AdminConfig `yaml:"admin"`
}

// AdminConfig protects the /admin endpoints.
type AdminConfig struct {
	Enabled    bool   `yaml:"enabled"`
	AdminToken string `yaml:"admin_token"`
}

// ModelGroup is a named virtual selector definition.
type ModelGroup struct {
	RoutingStrategy string            `yaml:"routing_strategy"`
	Filters         map[string]string `yaml:"filters"`
}

// SortRule is one field of a sorting strategy.
type SortRule struct {
	Field  string  `yaml:"field" json:"field"`
	Order  string  `yaml:"order" json:"order"` // "asc" or "desc"
	Weight float64 `yaml:"weight" json:"weight"`
}

// RoutingConfig holds strategy settings.
type RoutingConfig struct {
	DefaultStrategy   string                `yaml:"default_strategy"`
	SortingStrategies map[string][]SortRule `yaml:"sorting_strategies"`
}

// TaskConfig controls one background task.
type TaskConfig struct {
	Enabled  *bool         `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// IsEnabled reports whether the task is enabled (defaults to true when nil).
func (t TaskConfig) IsEnabled() bool { return t.Enabled == nil || *t.Enabled }

// TasksConfig holds all background task settings.
type TasksConfig struct {
	ModelDiscovery TaskConfig `yaml:"model_discovery"`
	HealthCheck    TaskConfig `yaml:"health_check"`
	CacheCleanup   TaskConfig `yaml:"cache_cleanup"`
}

// StorageConfig holds on-disk state locations.
type StorageConfig struct {
	CacheDir         string `yaml:"cache_dir"`
	LogDir           string `yaml:"log_dir"`
	ArchiveAfterDays int    `yaml:"archive_after_days"`
	Database         string `yaml:"database"` // SQLite path; empty disables the mirror
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`    // OTLP gRPC endpoint
	SampleRate float64 `yaml:"sample_rate"` // 0.0 to 1.0
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file, expanding environment variables
// and validating channels.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse unmarshals a YAML document into a Config with defaults pre-filled.
func Parse(data []byte) (*Config, error) {
	data = expandEnv(data)

	cfg := &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            7601,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    310 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Routing: RoutingConfig{
			DefaultStrategy: "balanced",
		},
		Tasks: TasksConfig{
			ModelDiscovery: TaskConfig{Interval: 6 * time.Hour},
			HealthCheck:    TaskConfig{Interval: 300 * time.Second},
			CacheCleanup:   TaskConfig{Interval: 60 * time.Second},
		},
		Storage: StorageConfig{
			CacheDir:         "cache",
			LogDir:           "logs",
			ArchiveAfterDays: 30,
		},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	// DATABASE_URL overrides the configured sqlite path, so deployments can
	// point the usage mirror elsewhere without editing the file.
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.Database = v
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks structural invariants and force-disables channels with
// missing or implausibly short API keys.
func (c *Config) validate() error {
	seen := make(map[string]struct{}, len(c.Channels))
	for _, ch := range c.Channels {
		if ch.ID == "" {
			return fmt.Errorf("channel %q: missing id", ch.Name)
		}
		if _, dup := seen[ch.ID]; dup {
			return fmt.Errorf("duplicate channel id %q", ch.ID)
		}
		seen[ch.ID] = struct{}{}

		if ch.Provider == "" {
			return fmt.Errorf("channel %q: missing provider", ch.ID)
		}
		if ch.Enabled && len(ch.APIKey) < minAPIKeyLen {
			slog.Warn("channel disabled: api_key missing or too short",
				"channel", ch.ID, "key_len", len(ch.APIKey))
			ch.Enabled = false
		}
	}
	return nil
}

// BaseURLFor resolves the effective upstream base URL for a channel:
// channel override first, then the provider default.
func (c *Config) BaseURLFor(ch *gateway.Channel) string {
	if ch.BaseURL != "" {
		return ch.BaseURL
	}
	if p, ok := c.Providers[ch.Provider]; ok {
		return p.BaseURL
	}
	return ""
}
