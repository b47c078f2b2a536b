package testutil

import (
	gateway "github.com/smartai/router/internal"
	"github.com/smartai/router/internal/config"
)

// TestChannel returns an enabled channel pointed at the given base URL.
func TestChannel(id, baseURL string, priority int, tags ...string) *gateway.Channel {
	return &gateway.Channel{
		ID:       id,
		Name:     id,
		Provider: "openai",
		BaseURL:  baseURL,
		APIKey:   "test-key-0123456789",
		Priority: priority,
		Enabled:  true,
		Tags:     tags,
	}
}

// TestConfig builds a minimal Config around the given channels.
func TestConfig(channels ...*gateway.Channel) *config.Config {
	return &config.Config{
		Providers: map[string]gateway.Provider{
			"openai": {
				Name:     "openai",
				BaseURL:  "https://api.openai.com/v1",
				AuthType: gateway.AuthBearer,
			},
		},
		Channels: channels,
		Routing:  config.RoutingConfig{DefaultStrategy: "balanced"},
	}
}

// TestRegistry builds a Registry over a TestConfig.
func TestRegistry(channels ...*gateway.Channel) *config.Registry {
	return config.NewRegistry(TestConfig(channels...), "")
}
