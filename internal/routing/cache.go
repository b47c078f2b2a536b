package routing

import (
	"sync"
	"time"

	"github.com/maypok86/otter/v2"
)

// selectionTTL bounds how long a routing decision is reused before the
// pipeline runs again.
const selectionTTL = 60 * time.Second

// maxBackups caps the failover list stored with a selection.
const maxBackups = 5

// Selection is a cached routing decision: the winner plus an ordered
// failover list.
type Selection struct {
	Primary       Score     `json:"primary"`
	Backups       []Score   `json:"backups"`
	Reason        string    `json:"reason"`
	EstimatedCost float64   `json:"estimated_cost"`
	CachedAt      time.Time `json:"cached_at"`
}

// Channels returns the primary followed by the backups, the order the
// dispatcher attempts them in.
func (s *Selection) Channels() []Score {
	out := make([]Score, 0, 1+len(s.Backups))
	out = append(out, s.Primary)
	return append(out, s.Backups...)
}

// SelectionCache memoises routing decisions by request fingerprint. A reverse
// channel index supports targeted invalidation when a channel is blacklisted
// or reconfigured mid-TTL. Index entries for expired cache keys are harmless
// (Invalidate on a missing key is a no-op) and are pruned by Sweep.
type SelectionCache struct {
	cache *otter.Cache[string, *Selection]

	mu      sync.Mutex
	byChann map[string]map[string]struct{} // channel id -> fingerprint keys
}

// NewSelectionCache returns a cache holding up to size decisions.
func NewSelectionCache(size int) *SelectionCache {
	if size <= 0 {
		size = 2048
	}
	cache := otter.Must(&otter.Options[string, *Selection]{
		MaximumSize:      size,
		ExpiryCalculator: otter.ExpiryWriting[string, *Selection](selectionTTL),
	})
	return &SelectionCache{
		cache:   cache,
		byChann: make(map[string]map[string]struct{}),
	}
}

// Get returns the cached selection for the fingerprint key, if still fresh.
func (sc *SelectionCache) Get(key string) (*Selection, bool) {
	return sc.cache.GetIfPresent(key)
}

// Put stores a selection and indexes every channel it references.
func (sc *SelectionCache) Put(key string, sel *Selection) {
	sc.cache.Set(key, sel)

	sc.mu.Lock()
	defer sc.mu.Unlock()
	for _, s := range sel.Channels() {
		keys, ok := sc.byChann[s.ChannelID]
		if !ok {
			keys = make(map[string]struct{})
			sc.byChann[s.ChannelID] = keys
		}
		keys[key] = struct{}{}
	}
}

// InvalidateChannel drops every cached selection whose primary or backup list
// references the channel. Called on blacklist escalation and config changes.
func (sc *SelectionCache) InvalidateChannel(channelID string) int {
	sc.mu.Lock()
	keys := sc.byChann[channelID]
	delete(sc.byChann, channelID)
	sc.mu.Unlock()

	for key := range keys {
		sc.cache.Invalidate(key)
	}
	return len(keys)
}

// InvalidateAll clears the cache, for config reloads.
func (sc *SelectionCache) InvalidateAll() {
	sc.cache.InvalidateAll()
	sc.mu.Lock()
	sc.byChann = make(map[string]map[string]struct{})
	sc.mu.Unlock()
}

// Sweep drops reverse-index entries whose cache keys have expired or been
// evicted. Run periodically from the maintenance worker.
func (sc *SelectionCache) Sweep() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	for channelID, keys := range sc.byChann {
		for key := range keys {
			if _, ok := sc.cache.GetIfPresent(key); !ok {
				delete(keys, key)
			}
		}
		if len(keys) == 0 {
			delete(sc.byChann, channelID)
		}
	}
}
