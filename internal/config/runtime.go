package config

import (
	"sync"
	"time"
)

// latencySamples is the rolling window size for per-channel latency averages.
const latencySamples = 20

// ChannelStats is a read-only snapshot of one channel's runtime counters.
type ChannelStats struct {
	Requests     int64   `json:"requests"`
	Failures     int64   `json:"failures"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	Samples      int     `json:"latency_samples"`
	LastUsedAt   time.Time `json:"last_used_at"`
}

// channelState is the mutable per-channel runtime state.
type channelState struct {
	requests  int64
	failures  int64
	latencies [latencySamples]float64 // ring buffer, ms
	count     int
	head      int
	lastUsed  time.Time
}

// RuntimeState tracks per-channel health scores and request statistics.
// It lives beside the config registry and is updated on every request outcome.
type RuntimeState struct {
	mu     sync.RWMutex
	health map[string]float64
	stats  map[string]*channelState
}

// NewRuntimeState returns an empty RuntimeState. Health scores are seeded at
// 1.0 on first report.
func NewRuntimeState() *RuntimeState {
	return &RuntimeState{
		health: make(map[string]float64),
		stats:  make(map[string]*channelState),
	}
}

// ReportOutcome records one request outcome for a channel. Success nudges the
// health score up by 0.01; failure drops it by 0.05. Scores stay in [0, 1].
func (s *RuntimeState) ReportOutcome(channelID string, success bool, latencyMs float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.health[channelID]
	if !ok {
		h = 1.0
	}
	if success {
		h = min(1.0, h+0.01)
	} else {
		h = max(0.0, h-0.05)
	}
	s.health[channelID] = h

	st, ok := s.stats[channelID]
	if !ok {
		st = &channelState{}
		s.stats[channelID] = st
	}
	st.requests++
	if !success {
		st.failures++
	}
	if success && latencyMs > 0 {
		st.latencies[st.head] = latencyMs
		st.head = (st.head + 1) % latencySamples
		if st.count < latencySamples {
			st.count++
		}
	}
	st.lastUsed = time.Now()
}

// HealthScore returns the channel's health score, seeded at 1.0 when unseen.
func (s *RuntimeState) HealthScore(channelID string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if h, ok := s.health[channelID]; ok {
		return h
	}
	return 1.0
}

// AvgLatency returns the rolling average latency in ms and the sample count.
func (s *RuntimeState) AvgLatency(channelID string) (float64, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stats[channelID]
	if !ok || st.count == 0 {
		return 0, 0
	}
	var sum float64
	for i := range st.count {
		sum += st.latencies[i]
	}
	return sum / float64(st.count), st.count
}

// Stats returns a snapshot of the channel's counters.
func (s *RuntimeState) Stats(channelID string) ChannelStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stats[channelID]
	if !ok {
		return ChannelStats{}
	}
	avg, n := 0.0, st.count
	if n > 0 {
		var sum float64
		for i := range n {
			sum += st.latencies[i]
		}
		avg = sum / float64(n)
	}
	return ChannelStats{
		Requests:     st.requests,
		Failures:     st.failures,
		AvgLatencyMs: avg,
		Samples:      n,
		LastUsedAt:   st.lastUsed,
	}
}
