package modelmeta

import (
	"os"
	"path/filepath"
	"slices"
	"testing"

	gateway "github.com/smartai/router/internal"
)

func TestChannelCatalog_SetAndReload(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ch := &gateway.Channel{ID: "ch1", APIKey: "test-key-0123456789"}

	c := NewChannelCatalog(dir, []*gateway.Channel{ch})
	if c.Models("ch1") != nil {
		t.Error("fresh catalog should have no models")
	}

	models := []string{"llama3.1:8b", "qwen2.5:7b"}
	if err := c.Set("ch1", ch.APIKey, models); err != nil {
		t.Fatal(err)
	}
	if got := c.Models("ch1"); !slices.Equal(got, models) {
		t.Errorf("models = %v, want %v", got, models)
	}

	// A new catalog instance finds the persisted file.
	reloaded := NewChannelCatalog(dir, []*gateway.Channel{ch})
	if got := reloaded.Models("ch1"); !slices.Equal(got, models) {
		t.Errorf("reloaded models = %v, want %v", got, models)
	}

	// Rotating the API key changes the cache file name, so the stale list
	// is not picked up.
	rotated := &gateway.Channel{ID: "ch1", APIKey: "different-key-9876543210"}
	if got := NewChannelCatalog(dir, []*gateway.Channel{rotated}).Models("ch1"); got != nil {
		t.Errorf("rotated key should miss the cache, got %v", got)
	}
}

func TestChannelCatalog_NoDir(t *testing.T) {
	t.Parallel()

	c := NewChannelCatalog("", nil)
	if err := c.Set("ch1", "key", []string{"m"}); err != nil {
		t.Fatal(err)
	}
	if got := c.Models("ch1"); !slices.Equal(got, []string{"m"}) {
		t.Errorf("in-memory models = %v", got)
	}
}

func TestChannelCatalog_CorruptFileSkipped(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ch := &gateway.Channel{ID: "ch1", APIKey: "test-key-0123456789"}
	c := NewChannelCatalog(dir, []*gateway.Channel{ch})

	path := c.filePath("ch1", ch.APIKey)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	if got := NewChannelCatalog(dir, []*gateway.Channel{ch}).Models("ch1"); got != nil {
		t.Errorf("corrupt file should be skipped, got %v", got)
	}
}
