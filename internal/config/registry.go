package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.yaml.in/yaml/v3"

	gateway "github.com/smartai/router/internal"
)

// Registry exposes the channel and provider configuration with hot mutation.
// Mutations persist back to the YAML file atomically (write tmp + rename) and
// update in-memory state under a single writer lock.
type Registry struct {
	mu   sync.RWMutex
	cfg  *Config
	path string // empty disables persistence (tests)
}

// NewRegistry wraps a loaded Config. path is the YAML file mutations are
// persisted to; empty disables persistence.
func NewRegistry(cfg *Config, path string) *Registry {
	return &Registry{cfg: cfg, path: path}
}

// Config returns the wrapped Config. Callers must not mutate it.
func (r *Registry) Config() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// Routing returns the routing section of the config.
func (r *Registry) Routing() RoutingConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg.Routing
}

// EnabledChannels returns all enabled channels.
func (r *Registry) EnabledChannels() []*gateway.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*gateway.Channel, 0, len(r.cfg.Channels))
	for _, ch := range r.cfg.Channels {
		if ch.Enabled {
			out = append(out, ch)
		}
	}
	return out
}

// AllChannels returns every configured channel regardless of enabled state.
func (r *Registry) AllChannels() []*gateway.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*gateway.Channel, len(r.cfg.Channels))
	copy(out, r.cfg.Channels)
	return out
}

// ChannelByID returns the channel with the given id, or nil.
func (r *Registry) ChannelByID(id string) *gateway.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ch := range r.cfg.Channels {
		if ch.ID == id {
			return ch
		}
	}
	return nil
}

// Provider returns the provider definition for name.
func (r *Registry) Provider(name string) (gateway.Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.cfg.Providers[name]
	return p, ok
}

// BaseURLFor resolves the effective upstream base URL for a channel.
func (r *Registry) BaseURLFor(ch *gateway.Channel) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg.BaseURLFor(ch)
}

// SetChannelEnabled flips a channel's enabled flag and persists the config.
func (r *Registry) SetChannelEnabled(id string, enabled bool) error {
	return r.mutate(id, func(ch *gateway.Channel) { ch.Enabled = enabled })
}

// SetChannelPriority updates a channel's priority and persists the config.
func (r *Registry) SetChannelPriority(id string, priority int) error {
	return r.mutate(id, func(ch *gateway.Channel) { ch.Priority = priority })
}

func (r *Registry) mutate(id string, fn func(*gateway.Channel)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var target *gateway.Channel
	for _, ch := range r.cfg.Channels {
		if ch.ID == id {
			target = ch
			break
		}
	}
	if target == nil {
		return fmt.Errorf("channel %q: %w", id, gateway.ErrNotFound)
	}
	fn(target)

	if r.path == "" {
		return nil
	}
	return persist(r.cfg, r.path)
}

// persist writes the config to a temp file in the same directory, then renames
// it over the target so readers never observe a partial document.
func persist(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp config: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}
