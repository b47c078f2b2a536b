package server

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
)

type adminError struct {
	Error string `json:"error"`
}

func writeAdminError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, adminError{Error: msg})
}

// handleListChannels returns every configured channel with its runtime stats.
func (s *server) handleListChannels(w http.ResponseWriter, _ *http.Request) {
	channels := s.deps.Registry.AllChannels()
	type row struct {
		ID          string   `json:"id"`
		Name        string   `json:"name"`
		Provider    string   `json:"provider"`
		Enabled     bool     `json:"enabled"`
		Priority    int      `json:"priority"`
		Tags        []string `json:"tags,omitempty"`
		ModelName   string   `json:"model_name,omitempty"`
		HealthScore float64  `json:"health_score"`
	}
	out := make([]row, 0, len(channels))
	for _, ch := range channels {
		out = append(out, row{
			ID:          ch.ID,
			Name:        ch.Name,
			Provider:    ch.Provider,
			Enabled:     ch.Enabled,
			Priority:    ch.Priority,
			Tags:        ch.Tags,
			ModelName:   ch.ModelName,
			HealthScore: s.deps.Runtime.HealthScore(ch.ID),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"channels": out})
}

func (s *server) handleEnableChannel(w http.ResponseWriter, r *http.Request) {
	s.setChannelEnabled(w, r, true)
}

func (s *server) handleDisableChannel(w http.ResponseWriter, r *http.Request) {
	s.setChannelEnabled(w, r, false)
}

func (s *server) setChannelEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Registry.SetChannelEnabled(id, enabled); err != nil {
		writeAdminError(w, errorStatus(err), err.Error())
		return
	}
	// Cached selections referencing the channel are stale either way.
	s.deps.Router.Selections().InvalidateChannel(id)
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "enabled": enabled})
}

func (s *server) handleSetChannelPriority(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body struct {
		Priority *int `json:"priority"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Priority == nil {
		writeAdminError(w, http.StatusBadRequest, "priority is required")
		return
	}
	if err := s.deps.Registry.SetChannelPriority(id, *body.Priority); err != nil {
		writeAdminError(w, errorStatus(err), err.Error())
		return
	}
	s.deps.Router.Selections().InvalidateChannel(id)
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "priority": *body.Priority})
}

// handleListBlacklist returns all active entries plus the channels whose
// failures escalated to channel-wide blocks.
func (s *server) handleListBlacklist(w http.ResponseWriter, _ *http.Request) {
	entries, channels := s.deps.Blacklist.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"entries":              entries,
		"blacklisted_channels": channels,
	})
}

func (s *server) handleClearBlacklist(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "channel")
	removed := s.deps.Blacklist.ClearChannel(id)
	s.deps.Router.Selections().InvalidateChannel(id)
	writeJSON(w, http.StatusOK, map[string]any{"channel": id, "removed": removed})
}

func (s *server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	sessions := s.deps.Sessions.Snapshot()
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastActiveAt.After(sessions[j].LastActiveAt)
	})
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *server) handleUsageTotals(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"totals": s.deps.Tracker.Totals()})
}

func (s *server) handleCachePurge(w http.ResponseWriter, _ *http.Request) {
	s.deps.Router.Selections().InvalidateAll()
	writeJSON(w, http.StatusOK, map[string]any{"purged": true})
}
