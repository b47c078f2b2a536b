// Package scheduler implements the per-channel minimum-request-interval gate.
package scheduler

import (
	"context"
	"sync"
	"time"
)

// gate tracks the last dispatch time for one channel.
type gate struct {
	mu       sync.Mutex
	last     time.Time // zero until the first dispatch
	lastUsed time.Time
}

// Interval is the per-channel min-interval scheduler. The dispatcher checks
// IsChannelReady to skip busy channels and calls RecordRequest immediately
// before dispatch, not after, so long streaming calls do not cause herds.
type Interval struct {
	mu    sync.RWMutex
	gates map[string]*gate
}

// NewInterval returns an empty scheduler.
func NewInterval() *Interval {
	return &Interval{gates: make(map[string]*gate)}
}

func (s *Interval) gateFor(channelID string) *gate {
	s.mu.RLock()
	g, ok := s.gates[channelID]
	s.mu.RUnlock()
	if ok {
		return g
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.gates[channelID]; ok {
		return g
	}
	g = &gate{}
	s.gates[channelID] = g
	return g
}

// IsChannelReady reports whether at least minInterval has elapsed since the
// channel's last recorded dispatch. A channel with minInterval <= 0 or no
// dispatch history is always ready.
func (s *Interval) IsChannelReady(channelID string, minInterval time.Duration) bool {
	if minInterval <= 0 {
		return true
	}
	s.mu.RLock()
	g, ok := s.gates[channelID]
	s.mu.RUnlock()
	if !ok {
		return true
	}
	g.mu.Lock()
	last := g.last
	g.mu.Unlock()
	return last.IsZero() || time.Since(last) >= minInterval
}

// RecordRequest marks the channel as dispatched-to now.
func (s *Interval) RecordRequest(channelID string) {
	g := s.gateFor(channelID)
	now := time.Now()
	g.mu.Lock()
	g.last = now
	g.lastUsed = now
	g.mu.Unlock()
}

// WaitIfNeeded blocks until the channel's interval has elapsed or ctx is done.
// It returns the time actually waited.
func (s *Interval) WaitIfNeeded(ctx context.Context, channelID string, minInterval time.Duration) (time.Duration, error) {
	if minInterval <= 0 {
		return 0, nil
	}
	g := s.gateFor(channelID)
	g.mu.Lock()
	last := g.last
	g.lastUsed = time.Now()
	g.mu.Unlock()

	if last.IsZero() {
		return 0, nil
	}
	remaining := minInterval - time.Since(last)
	if remaining <= 0 {
		return 0, nil
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
		return remaining, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// EvictStale removes gates not used since cutoff.
func (s *Interval) EvictStale(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for id, g := range s.gates {
		g.mu.Lock()
		stale := g.lastUsed.Before(cutoff)
		g.mu.Unlock()
		if stale {
			delete(s.gates, id)
			evicted++
		}
	}
	return evicted
}
