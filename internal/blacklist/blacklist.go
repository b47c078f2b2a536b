// Package blacklist implements the (channel, model) failure blacklist with
// typed error classification, exponential backoff, channel-wide escalation,
// and recovery-probe bookkeeping.
package blacklist

import (
	"strings"
	"sync"
	"time"

	gateway "github.com/smartai/router/internal"
)

const (
	// maxBackoff caps the doubled re-fail backoff.
	maxBackoff = 3600 * time.Second
	// channelFailureThreshold escalates a channel after this many total failures.
	channelFailureThreshold = 5
	// channelModelThreshold escalates a channel when this many distinct models
	// are currently blacklisted on it.
	channelModelThreshold = 3
	// maxRecoveryAttempts limits recovery probes per entry per hour.
	maxRecoveryAttempts = 3
	// maxBackoffShift bounds backoff shift exponents below int64 overflow.
	maxBackoffShift = 30
)

// record wraps a BlacklistEntry with probe bookkeeping that is not part of
// the exported entry shape.
type record struct {
	entry          gateway.BlacklistEntry
	initialBackoff time.Duration
	probeTimes     []time.Time // recovery probes within the last hour
	failedProbes   int         // consecutive failed probes, for expiry extension
}

// Manager is the (channel, model) keyed blacklist. All operations are O(1) in
// the number of entries apart from the cleanup and listing paths.
type Manager struct {
	mu           sync.RWMutex
	entries      map[string]*record
	channelFails map[string]int      // cumulative failure count per channel
	channelWide  map[string]struct{} // escalated channels (all models barred)
}

// NewManager returns an empty blacklist manager.
func NewManager() *Manager {
	return &Manager{
		entries:      make(map[string]*record),
		channelFails: make(map[string]int),
		channelWide:  make(map[string]struct{}),
	}
}

func key(channelID, model string) string {
	return channelID + "|" + strings.ToLower(model)
}

// Add inserts or escalates a blacklist entry for (channelID, model) from the
// given classification. It returns true when the failure escalated to a
// channel-wide blacklist, so the dispatcher can skip the whole channel.
func (m *Manager) Add(channelID, model string, c Classification, code int, msg string) bool {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(channelID, model)
	rec, exists := m.entries[k]
	if exists && !rec.entry.IsPermanent {
		rec.entry.FailureCount++
		rec.entry.ErrorType = c.Type
		rec.entry.ErrorCode = code
		rec.entry.ErrorMessage = msg
		rec.entry.BlacklistedAt = now
		backoff := rec.initialBackoff
		if rec.entry.FailureCount >= 2 {
			// The shift exponent is capped so a long-lived entry cannot
			// overflow the duration arithmetic.
			backoff = min(rec.initialBackoff<<min(rec.entry.FailureCount-1, maxBackoffShift), maxBackoff)
		}
		if c.Permanent {
			rec.entry.IsPermanent = true
			rec.entry.ExpiresAt = nil
			rec.entry.BackoffDuration = 0
		} else {
			exp := now.Add(backoff)
			rec.entry.ExpiresAt = &exp
			rec.entry.BackoffDuration = backoff.Seconds()
		}
	} else if !exists {
		rec = &record{
			entry: gateway.BlacklistEntry{
				ChannelID:     channelID,
				ModelName:     strings.ToLower(model),
				ErrorType:     c.Type,
				ErrorCode:     code,
				ErrorMessage:  msg,
				BlacklistedAt: now,
				FailureCount:  1,
				IsPermanent:   c.Permanent,
			},
			initialBackoff: c.Backoff,
		}
		if !c.Permanent {
			exp := now.Add(c.Backoff)
			rec.entry.ExpiresAt = &exp
			rec.entry.BackoffDuration = c.Backoff.Seconds()
		}
		m.entries[k] = rec
	}

	m.channelFails[channelID]++

	escalated := false
	if c.Type == gateway.ErrTypeAuth {
		escalated = true
	}
	if m.channelFails[channelID] >= channelFailureThreshold {
		escalated = true
	}
	if m.distinctModelsLocked(channelID, now) >= channelModelThreshold {
		escalated = true
	}
	if escalated {
		m.channelWide[channelID] = struct{}{}
	}
	return escalated
}

// distinctModelsLocked counts unexpired entries for a channel. Caller holds mu.
func (m *Manager) distinctModelsLocked(channelID string, now time.Time) int {
	n := 0
	for _, rec := range m.entries {
		if rec.entry.ChannelID == channelID && !rec.entry.Expired(now) {
			n++
		}
	}
	return n
}

// IsModelBlacklisted reports whether (channelID, model) is barred, returning
// the entry when one exists. Expired entries are garbage-collected on read.
func (m *Manager) IsModelBlacklisted(channelID, model string) (bool, *gateway.BlacklistEntry) {
	now := time.Now()
	k := key(channelID, model)

	m.mu.RLock()
	rec, ok := m.entries[k]
	_, wide := m.channelWide[channelID]
	expired := ok && rec.entry.Expired(now)
	m.mu.RUnlock()

	if expired {
		m.mu.Lock()
		if rec, ok2 := m.entries[k]; ok2 && rec.entry.Expired(now) {
			delete(m.entries, k)
		}
		m.mu.Unlock()
		ok = false
		rec = nil
	}

	if !ok && !wide {
		return false, nil
	}
	if ok {
		e := rec.entry
		return true, &e
	}
	return true, nil
}

// IsChannelBlacklisted reports whether the whole channel is barred.
func (m *Manager) IsChannelBlacklisted(channelID string) bool {
	m.mu.RLock()
	_, wide := m.channelWide[channelID]
	m.mu.RUnlock()
	return wide
}

// ModelsForChannel returns the unexpired entries for a channel.
func (m *Manager) ModelsForChannel(channelID string) []gateway.BlacklistEntry {
	now := time.Now()
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []gateway.BlacklistEntry
	for _, rec := range m.entries {
		if rec.entry.ChannelID == channelID && !rec.entry.Expired(now) {
			out = append(out, rec.entry)
		}
	}
	return out
}

// AvailableChannels filters allIDs down to channels that may serve model.
func (m *Manager) AvailableChannels(model string, allIDs []string) []string {
	out := make([]string, 0, len(allIDs))
	for _, id := range allIDs {
		if barred, _ := m.IsModelBlacklisted(id, model); !barred {
			out = append(out, id)
		}
	}
	return out
}

// CleanupExpired removes stale entries and returns the number removed.
func (m *Manager) CleanupExpired() int {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for k, rec := range m.entries {
		if rec.entry.Expired(now) {
			delete(m.entries, k)
			removed++
		}
	}
	return removed
}

// RecoveryCandidates returns the entries eligible for a recovery probe:
// non-permanent, expired, not auth errors, and under the hourly probe budget.
// Probe bookkeeping is updated for each returned entry.
func (m *Manager) RecoveryCandidates(now time.Time) []gateway.BlacklistEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []gateway.BlacklistEntry
	hourAgo := now.Add(-time.Hour)
	for _, rec := range m.entries {
		if rec.entry.IsPermanent || rec.entry.ErrorType == gateway.ErrTypeAuth {
			continue
		}
		if rec.entry.ExpiresAt == nil || now.Before(*rec.entry.ExpiresAt) {
			continue
		}
		// Drop probe timestamps older than an hour, then check the budget.
		kept := rec.probeTimes[:0]
		for _, t := range rec.probeTimes {
			if t.After(hourAgo) {
				kept = append(kept, t)
			}
		}
		rec.probeTimes = kept
		if len(rec.probeTimes) >= maxRecoveryAttempts {
			continue
		}
		rec.probeTimes = append(rec.probeTimes, now)
		out = append(out, rec.entry)
	}
	return out
}

// Remove deletes the entry for (channelID, model), e.g. after a successful
// recovery probe. The channel-wide flag is cleared when no entries remain.
func (m *Manager) Remove(channelID, model string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key(channelID, model))
	if m.distinctModelsLocked(channelID, time.Now()) == 0 {
		delete(m.channelWide, channelID)
		delete(m.channelFails, channelID)
	}
}

// ExtendAfterFailedProbe pushes the entry's expiry forward by
// min(base * 2^k, 3600s) where k counts consecutive failed probes starting
// at one, so the first failed probe of a 60 s entry extends it by 120 s.
// Failed probes never remove entries.
func (m *Manager) ExtendAfterFailedProbe(channelID, model string) time.Duration {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.entries[key(channelID, model)]
	if !ok || rec.entry.IsPermanent {
		return 0
	}
	rec.failedProbes++
	ext := min(rec.initialBackoff<<min(rec.failedProbes, maxBackoffShift), maxBackoff)
	exp := now.Add(ext)
	rec.entry.ExpiresAt = &exp
	rec.entry.BackoffDuration = ext.Seconds()
	return ext
}

// ClearChannel removes the channel-wide flag and every entry for a channel.
// This is the admin path; permanent auth entries are cleared here and only here.
func (m *Manager) ClearChannel(channelID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for k, rec := range m.entries {
		if rec.entry.ChannelID == channelID {
			delete(m.entries, k)
			removed++
		}
	}
	delete(m.channelWide, channelID)
	delete(m.channelFails, channelID)
	return removed
}

// Snapshot returns all unexpired entries and the escalated channel ids, for
// the status endpoints.
func (m *Manager) Snapshot() ([]gateway.BlacklistEntry, []string) {
	now := time.Now()
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make([]gateway.BlacklistEntry, 0, len(m.entries))
	for _, rec := range m.entries {
		if !rec.entry.Expired(now) {
			entries = append(entries, rec.entry)
		}
	}
	channels := make([]string, 0, len(m.channelWide))
	for id := range m.channelWide {
		channels = append(channels, id)
	}
	return entries, channels
}
