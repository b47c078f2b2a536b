package server

import (
	"net/http"
	"time"

	"github.com/smartai/router/internal/config"
)

// channelStatus is one row in the /v1/status overview.
type channelStatus struct {
	ID                string              `json:"id"`
	Name              string              `json:"name"`
	Provider          string              `json:"provider"`
	Enabled           bool                `json:"enabled"`
	Priority          int                 `json:"priority"`
	Tags              []string            `json:"tags,omitempty"`
	HealthScore       float64             `json:"health_score"`
	Stats             config.ChannelStats `json:"stats"`
	BlacklistedModels []string            `json:"blacklisted_models,omitempty"`
	FullyBlacklisted  bool                `json:"fully_blacklisted"`
}

type statusResponse struct {
	Timestamp       time.Time       `json:"timestamp"`
	Channels        []channelStatus `json:"channels"`
	BlacklistTotal  int             `json:"blacklist_entries"`
	ActiveBlacklist int             `json:"active_channel_blacklists"`
}

// handleStatus reports per-channel health, runtime stats, and blacklist
// state in one view.
func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	entries, fullChannels := s.deps.Blacklist.Snapshot()
	full := make(map[string]struct{}, len(fullChannels))
	for _, id := range fullChannels {
		full[id] = struct{}{}
	}

	channels := s.deps.Registry.AllChannels()
	out := statusResponse{
		Timestamp:       time.Now().UTC(),
		Channels:        make([]channelStatus, 0, len(channels)),
		BlacklistTotal:  len(entries),
		ActiveBlacklist: len(fullChannels),
	}

	for _, ch := range channels {
		cs := channelStatus{
			ID:          ch.ID,
			Name:        ch.Name,
			Provider:    ch.Provider,
			Enabled:     ch.Enabled,
			Priority:    ch.Priority,
			Tags:        ch.Tags,
			HealthScore: s.deps.Runtime.HealthScore(ch.ID),
			Stats:       s.deps.Runtime.Stats(ch.ID),
		}
		for _, e := range s.deps.Blacklist.ModelsForChannel(ch.ID) {
			cs.BlacklistedModels = append(cs.BlacklistedModels, e.ModelName)
		}
		_, cs.FullyBlacklisted = full[ch.ID]
		out.Channels = append(out.Channels, cs)
	}

	writeJSON(w, http.StatusOK, out)
}
