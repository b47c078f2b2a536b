package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParse_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := Parse([]byte("server:\n  debug: true\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 7601 {
		t.Errorf("port = %d, want 7601", cfg.Server.Port)
	}
	if cfg.Server.Addr() != "0.0.0.0:7601" {
		t.Errorf("addr = %s", cfg.Server.Addr())
	}
	if !cfg.Server.Debug {
		t.Error("debug flag lost")
	}
	if cfg.Routing.DefaultStrategy != "balanced" {
		t.Errorf("default strategy = %s, want balanced", cfg.Routing.DefaultStrategy)
	}
	if cfg.Tasks.HealthCheck.Interval != 300*time.Second {
		t.Errorf("health check interval = %v", cfg.Tasks.HealthCheck.Interval)
	}
	if cfg.Storage.LogDir != "logs" || cfg.Storage.ArchiveAfterDays != 30 {
		t.Errorf("storage defaults = %+v", cfg.Storage)
	}
	if cfg.Storage.Database != "" {
		t.Errorf("database should default to empty, got %q", cfg.Storage.Database)
	}
}

func TestParse_DatabaseURLOverride(t *testing.T) {
	t.Setenv("DATABASE_URL", "/data/usage.db")

	cfg, err := Parse([]byte("storage:\n  database: configured.db\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.Database != "/data/usage.db" {
		t.Errorf("database = %q, want the DATABASE_URL override", cfg.Storage.Database)
	}
}

func TestParse_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_ROUTER_KEY", "sk-expanded-0123456789")

	doc := `
providers:
  openai:
    base_url: https://api.openai.com/v1
channels:
  - id: ch1
    provider: openai
    api_key: ${TEST_ROUTER_KEY}
    enabled: true
  - id: ch2
    provider: openai
    api_key: ${TEST_ROUTER_UNSET}
`
	cfg, err := Parse([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.Channels[0].APIKey; got != "sk-expanded-0123456789" {
		t.Errorf("api_key = %q, want expanded value", got)
	}
	// Unset variables stay literal rather than becoming empty.
	if got := cfg.Channels[1].APIKey; got != "${TEST_ROUTER_UNSET}" {
		t.Errorf("unset var = %q, want literal placeholder", got)
	}
}

func TestParse_ValidationErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "missing_id",
			doc:  "channels:\n  - name: unnamed\n    provider: openai\n",
			want: "missing id",
		},
		{
			name: "duplicate_id",
			doc:  "channels:\n  - id: ch1\n    provider: openai\n  - id: ch1\n    provider: openai\n",
			want: "duplicate channel id",
		},
		{
			name: "missing_provider",
			doc:  "channels:\n  - id: ch1\n",
			want: "missing provider",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tt.doc))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestParse_ShortKeyForceDisables(t *testing.T) {
	t.Parallel()

	doc := `
channels:
  - id: ch1
    provider: openai
    api_key: short
    enabled: true
  - id: ch2
    provider: openai
    api_key: long-enough-key-123
    enabled: true
`
	cfg, err := Parse([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Channels[0].Enabled {
		t.Error("channel with short api_key should be force-disabled")
	}
	if !cfg.Channels[1].Enabled {
		t.Error("channel with valid api_key should stay enabled")
	}
}

func TestParse_MalformedYAML(t *testing.T) {
	t.Parallel()

	if _, err := Parse([]byte("server: [not a map")); err == nil {
		t.Error("malformed yaml should fail to parse")
	}
}

func TestTaskConfig_IsEnabled(t *testing.T) {
	t.Parallel()

	if !(TaskConfig{}).IsEnabled() {
		t.Error("nil enabled should default to true")
	}
	off := false
	if (TaskConfig{Enabled: &off}).IsEnabled() {
		t.Error("explicit false should disable")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load("/nonexistent/sair.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	var pathErr interface{ Unwrap() error }
	if !errors.As(err, &pathErr) {
		t.Errorf("err = %v, want wrapped read error", err)
	}
}
