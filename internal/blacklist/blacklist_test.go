package blacklist

import (
	"testing"
	"time"

	gateway "github.com/smartai/router/internal"
)

func TestManager_AddAndLookup(t *testing.T) {
	t.Parallel()

	m := NewManager()
	c := Classification{Type: gateway.ErrTypeRateLimit, Backoff: 10 * time.Second}
	if escalated := m.Add("ch1", "GPT-4o", c, 429, "rate limited"); escalated {
		t.Error("single rate limit should not escalate")
	}

	// Lookup is case-insensitive on the model.
	barred, entry := m.IsModelBlacklisted("ch1", "gpt-4o")
	if !barred || entry == nil {
		t.Fatal("expected entry for ch1/gpt-4o")
	}
	if entry.ErrorType != gateway.ErrTypeRateLimit || entry.FailureCount != 1 {
		t.Errorf("entry = %+v", entry)
	}
	if entry.ExpiresAt == nil {
		t.Error("rate limit entry should carry an expiry")
	}

	if barred, _ := m.IsModelBlacklisted("ch1", "other-model"); barred {
		t.Error("other models on the channel should stay available")
	}
	if barred, _ := m.IsModelBlacklisted("ch2", "gpt-4o"); barred {
		t.Error("other channels should stay available")
	}
}

func TestManager_BackoffDoubles(t *testing.T) {
	t.Parallel()

	m := NewManager()
	c := Classification{Type: gateway.ErrTypeServer, Backoff: 60 * time.Second}

	m.Add("ch1", "m", c, 500, "boom")
	_, e := m.IsModelBlacklisted("ch1", "m")
	if e.BackoffDuration != 60 {
		t.Fatalf("first backoff = %f, want 60", e.BackoffDuration)
	}

	m.Add("ch1", "m", c, 500, "boom")
	_, e = m.IsModelBlacklisted("ch1", "m")
	if e.FailureCount != 2 || e.BackoffDuration != 120 {
		t.Errorf("second failure: count=%d backoff=%f, want 2/120", e.FailureCount, e.BackoffDuration)
	}

	// Backoff is capped at one hour.
	for i := 0; i < 10; i++ {
		m.Add("ch1", "m", c, 500, "boom")
	}
	_, e = m.IsModelBlacklisted("ch1", "m")
	if e.BackoffDuration != 3600 {
		t.Errorf("capped backoff = %f, want 3600", e.BackoffDuration)
	}
}

func TestManager_AuthEscalatesChannelWide(t *testing.T) {
	t.Parallel()

	m := NewManager()
	c := Classification{Type: gateway.ErrTypeAuth, Permanent: true}
	if escalated := m.Add("ch1", "m1", c, 401, "bad key"); !escalated {
		t.Fatal("auth failure should escalate immediately")
	}
	if !m.IsChannelBlacklisted("ch1") {
		t.Error("channel should be blacklisted")
	}

	// Channel-wide bar applies to models with no entry of their own.
	if barred, _ := m.IsModelBlacklisted("ch1", "unrelated"); !barred {
		t.Error("channel-wide blacklist should bar every model")
	}

	// Permanent entries never expire and re-adds stay permanent.
	_, e := m.IsModelBlacklisted("ch1", "m1")
	if !e.IsPermanent || e.ExpiresAt != nil {
		t.Errorf("entry = %+v, want permanent without expiry", e)
	}
}

func TestManager_EscalatesOnDistinctModels(t *testing.T) {
	t.Parallel()

	m := NewManager()
	c := Classification{Type: gateway.ErrTypeServer, Backoff: time.Minute}
	m.Add("ch1", "m1", c, 500, "boom")
	if m.IsChannelBlacklisted("ch1") {
		t.Fatal("one model should not escalate")
	}
	m.Add("ch1", "m2", c, 500, "boom")
	escalated := m.Add("ch1", "m3", c, 500, "boom")
	if !escalated || !m.IsChannelBlacklisted("ch1") {
		t.Error("three distinct blacklisted models should escalate the channel")
	}
}

func TestManager_ExpiryAndCleanup(t *testing.T) {
	t.Parallel()

	m := NewManager()
	m.Add("ch1", "m", Classification{Type: gateway.ErrTypeRateLimit, Backoff: -time.Second}, 429, "x")

	// Already expired: read path garbage-collects.
	if barred, _ := m.IsModelBlacklisted("ch1", "m"); barred {
		t.Error("expired entry should not bar the model")
	}

	m.Add("ch1", "m", Classification{Type: gateway.ErrTypeRateLimit, Backoff: -time.Second}, 429, "x")
	if removed := m.CleanupExpired(); removed != 1 {
		t.Errorf("CleanupExpired = %d, want 1", removed)
	}
}

func TestManager_RecoveryCandidates(t *testing.T) {
	t.Parallel()

	m := NewManager()
	now := time.Now()
	m.Add("ch1", "expired", Classification{Type: gateway.ErrTypeServer, Backoff: -time.Second}, 500, "x")
	m.Add("ch1", "pending", Classification{Type: gateway.ErrTypeServer, Backoff: time.Hour}, 500, "x")
	m.Add("ch2", "auth", Classification{Type: gateway.ErrTypeAuth, Permanent: true}, 401, "x")

	got := m.RecoveryCandidates(now)
	if len(got) != 1 || got[0].ModelName != "expired" {
		t.Fatalf("candidates = %+v, want only the expired entry", got)
	}

	// Hourly probe budget: two more probes allowed, then none.
	m.RecoveryCandidates(now)
	m.RecoveryCandidates(now)
	if got := m.RecoveryCandidates(now); len(got) != 0 {
		t.Errorf("fourth probe within the hour = %+v, want none", got)
	}
}

func TestManager_ExtendAfterFailedProbe(t *testing.T) {
	t.Parallel()

	m := NewManager()
	m.Add("ch1", "m", Classification{Type: gateway.ErrTypeServer, Backoff: 60 * time.Second}, 500, "x")

	if got := m.ExtendAfterFailedProbe("ch1", "m"); got != 120*time.Second {
		t.Errorf("first extension = %s, want 120s", got)
	}
	if got := m.ExtendAfterFailedProbe("ch1", "m"); got != 240*time.Second {
		t.Errorf("second extension = %s, want 240s", got)
	}
	if got := m.ExtendAfterFailedProbe("ch1", "missing"); got != 0 {
		t.Errorf("extension for missing entry = %s, want 0", got)
	}
}

func TestManager_BackoffShiftCapped(t *testing.T) {
	t.Parallel()

	m := NewManager()
	c := Classification{Type: gateway.ErrTypeServer, Backoff: 60 * time.Second}
	for range 40 {
		m.Add("ch1", "m", c, 500, "x")
	}

	barred, entry := m.IsModelBlacklisted("ch1", "m")
	if !barred || entry == nil {
		t.Fatal("entry should survive repeated failures")
	}
	if entry.BackoffDuration != maxBackoff.Seconds() {
		t.Errorf("backoff = %v, want capped at %v", entry.BackoffDuration, maxBackoff.Seconds())
	}
	if entry.ExpiresAt == nil || entry.ExpiresAt.Before(time.Now()) {
		t.Error("capped backoff should still expire in the future")
	}
}

func TestManager_RemoveClearsEscalation(t *testing.T) {
	t.Parallel()

	m := NewManager()
	c := Classification{Type: gateway.ErrTypeServer, Backoff: time.Minute}
	m.Add("ch1", "m1", c, 500, "x")
	m.Add("ch1", "m2", c, 500, "x")
	m.Add("ch1", "m3", c, 500, "x")
	if !m.IsChannelBlacklisted("ch1") {
		t.Fatal("expected escalation")
	}

	m.Remove("ch1", "m1")
	m.Remove("ch1", "m2")
	m.Remove("ch1", "m3")
	if m.IsChannelBlacklisted("ch1") {
		t.Error("removing every entry should clear the channel-wide flag")
	}
}

func TestManager_ClearChannel(t *testing.T) {
	t.Parallel()

	m := NewManager()
	m.Add("ch1", "m1", Classification{Type: gateway.ErrTypeAuth, Permanent: true}, 401, "x")
	m.Add("ch1", "m2", Classification{Type: gateway.ErrTypeServer, Backoff: time.Minute}, 500, "x")
	m.Add("ch2", "m1", Classification{Type: gateway.ErrTypeServer, Backoff: time.Minute}, 500, "x")

	if removed := m.ClearChannel("ch1"); removed != 2 {
		t.Errorf("ClearChannel = %d, want 2", removed)
	}
	if m.IsChannelBlacklisted("ch1") {
		t.Error("cleared channel should not stay blacklisted")
	}
	if barred, _ := m.IsModelBlacklisted("ch2", "m1"); !barred {
		t.Error("other channels should be untouched")
	}
}

func TestManager_AvailableChannels(t *testing.T) {
	t.Parallel()

	m := NewManager()
	m.Add("ch2", "m", Classification{Type: gateway.ErrTypeServer, Backoff: time.Minute}, 500, "x")

	got := m.AvailableChannels("m", []string{"ch1", "ch2", "ch3"})
	if len(got) != 2 || got[0] != "ch1" || got[1] != "ch3" {
		t.Errorf("AvailableChannels = %v, want [ch1 ch3]", got)
	}
}
