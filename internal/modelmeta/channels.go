package modelmeta

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	gateway "github.com/smartai/router/internal"
)

// channelCatalogFile is the on-disk shape of one channel's discovered models.
type channelCatalogFile struct {
	ChannelID   string    `json:"channel_id"`
	Models      []string  `json:"models"`
	RefreshedAt time.Time `json:"refreshed_at"`
}

// ChannelCatalog holds the discovered concrete-model list per channel,
// persisted under {dir}/channels/{channel_id}_{sha256(api_key)[:8]}.json.
// The API-key salt invalidates the cache when a channel's key changes.
type ChannelCatalog struct {
	mu     sync.RWMutex
	dir    string // empty disables persistence
	models map[string][]string
}

// NewChannelCatalog returns a catalog rooted at cacheDir. Existing cache files
// for the given channels are loaded eagerly; unreadable files are skipped.
func NewChannelCatalog(cacheDir string, channels []*gateway.Channel) *ChannelCatalog {
	c := &ChannelCatalog{
		dir:    cacheDir,
		models: make(map[string][]string),
	}
	if cacheDir == "" {
		return c
	}
	for _, ch := range channels {
		data, err := os.ReadFile(c.filePath(ch.ID, ch.APIKey))
		if err != nil {
			continue
		}
		var f channelCatalogFile
		if json.Unmarshal(data, &f) == nil && f.ChannelID == ch.ID {
			c.models[ch.ID] = f.Models
		}
	}
	return c
}

func (c *ChannelCatalog) filePath(channelID, apiKey string) string {
	salt := gateway.HashKey(apiKey)[:8]
	return filepath.Join(c.dir, "channels", fmt.Sprintf("%s_%s.json", channelID, salt))
}

// Models returns the discovered model ids for a channel, or nil when the
// channel has never been discovered.
func (c *ChannelCatalog) Models(channelID string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.models[channelID]
}

// Set replaces a channel's discovered model list and persists it when a cache
// directory is configured.
func (c *ChannelCatalog) Set(channelID, apiKey string, models []string) error {
	c.mu.Lock()
	c.models[channelID] = models
	c.mu.Unlock()

	if c.dir == "" {
		return nil
	}
	f := channelCatalogFile{
		ChannelID:   channelID,
		Models:      models,
		RefreshedAt: time.Now().UTC(),
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal channel catalog: %w", err)
	}
	path := c.filePath(channelID, apiKey)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create channels cache dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write channel catalog: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename channel catalog: %w", err)
	}
	return nil
}
