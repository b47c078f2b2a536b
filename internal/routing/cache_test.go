package routing

import (
	"testing"
	"time"
)

func testSelection(primary, backup string) *Selection {
	sel := &Selection{
		Primary:  Score{ChannelID: primary, MatchedModel: "m"},
		CachedAt: time.Now(),
	}
	if backup != "" {
		sel.Backups = []Score{{ChannelID: backup, MatchedModel: "m"}}
	}
	return sel
}

func TestSelectionCache_PutGet(t *testing.T) {
	t.Parallel()

	sc := NewSelectionCache(16)
	sc.Put("k1", testSelection("a", "b"))

	got, ok := sc.Get("k1")
	if !ok || got.Primary.ChannelID != "a" {
		t.Fatalf("Get = %+v, %v", got, ok)
	}
	if _, ok := sc.Get("missing"); ok {
		t.Error("missing key should not hit")
	}
}

func TestSelectionCache_InvalidateChannel(t *testing.T) {
	t.Parallel()

	sc := NewSelectionCache(16)
	sc.Put("k1", testSelection("a", "b"))
	sc.Put("k2", testSelection("b", ""))
	sc.Put("k3", testSelection("c", ""))

	// Invalidation covers selections where the channel is a backup too.
	if n := sc.InvalidateChannel("b"); n != 2 {
		t.Errorf("InvalidateChannel = %d, want 2", n)
	}
	if _, ok := sc.Get("k1"); ok {
		t.Error("k1 should be dropped (b is a backup)")
	}
	if _, ok := sc.Get("k2"); ok {
		t.Error("k2 should be dropped (b is primary)")
	}
	if _, ok := sc.Get("k3"); !ok {
		t.Error("k3 should survive")
	}

	if n := sc.InvalidateChannel("b"); n != 0 {
		t.Errorf("second invalidation = %d, want 0", n)
	}
}

func TestSelectionCache_InvalidateAll(t *testing.T) {
	t.Parallel()

	sc := NewSelectionCache(16)
	sc.Put("k1", testSelection("a", ""))
	sc.Put("k2", testSelection("b", ""))
	sc.InvalidateAll()

	if _, ok := sc.Get("k1"); ok {
		t.Error("cache should be empty after InvalidateAll")
	}
	if n := sc.InvalidateChannel("a"); n != 0 {
		t.Errorf("index should be cleared, got %d", n)
	}
}

func TestSelection_Channels(t *testing.T) {
	t.Parallel()

	sel := testSelection("a", "b")
	got := sel.Channels()
	if len(got) != 2 || got[0].ChannelID != "a" || got[1].ChannelID != "b" {
		t.Errorf("Channels = %+v, want [a b]", got)
	}
}
