package cost

import (
	"sync"
	"time"

	gateway "github.com/smartai/router/internal"
)

// sessionIdleTTL is how long a session survives without traffic.
const sessionIdleTTL = time.Hour

// Sessions accumulates per-caller accounting keyed by the session key the
// authenticate middleware derives from (api key, user agent, client ip).
type Sessions struct {
	mu sync.Mutex
	m  map[string]*gateway.Session
}

// NewSessions returns an empty session table.
func NewSessions() *Sessions {
	return &Sessions{m: make(map[string]*gateway.Session)}
}

// Touch records one request against the session, creating it on first use.
func (s *Sessions) Touch(key, model, channelID string, cost float64) {
	if key == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.m[key]
	if !ok {
		sess = &gateway.Session{
			Key:          key,
			ModelsUsed:   make(map[string]int64),
			ChannelsUsed: make(map[string]int64),
		}
		s.m[key] = sess
	}
	sess.TotalRequests++
	sess.TotalCost += cost
	sess.ModelsUsed[model]++
	sess.ChannelsUsed[channelID]++
	sess.LastActiveAt = time.Now()
}

// Get returns a copy of the session, if present.
func (s *Sessions) Get(key string) (gateway.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.m[key]
	if !ok {
		return gateway.Session{}, false
	}
	return *sess, true
}

// Snapshot returns copies of all live sessions.
func (s *Sessions) Snapshot() []gateway.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]gateway.Session, 0, len(s.m))
	for _, sess := range s.m {
		out = append(out, *sess)
	}
	return out
}

// CleanupExpired drops sessions idle longer than one hour. Returns the
// number removed.
func (s *Sessions) CleanupExpired() int {
	cutoff := time.Now().Add(-sessionIdleTTL)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, sess := range s.m {
		if sess.LastActiveAt.Before(cutoff) {
			delete(s.m, key)
			removed++
		}
	}
	return removed
}
