// Package routing implements the routing core: candidate discovery, capability
// filtering, multi-factor scoring, and the fingerprint-keyed selection cache.
package routing

import (
	"encoding/json"

	gateway "github.com/smartai/router/internal"
)

// Request carries the routing-relevant view of a chat request.
type Request struct {
	Model                string   // exact, "tag:A,B", or "auto:strategy"
	Stream               bool
	MaxTokens            int
	Temperature          float64
	Strategy             string   // resolved strategy name; empty = default
	RequiredCapabilities []string // detected: "vision", "function_calling", "streaming"
	MinContextLength     int
	MaxCostPer1K         float64
	PreferLocal          bool
	ExcludeProviders     []string
	HasFunctions         bool

	Raw json.RawMessage // original OpenAI-format payload, for detection
}

// Candidate is a (channel, concrete model) pair produced by discovery.
type Candidate struct {
	Channel      *gateway.Channel
	MatchedModel string
}

// Score is the ranked outcome for one candidate. All sub-scores are in [0, 1].
type Score struct {
	Channel      *gateway.Channel `json:"-"`
	ChannelID    string           `json:"channel_id"`
	ChannelName  string           `json:"channel_name"`
	MatchedModel string           `json:"matched_model"`

	Cost        float64 `json:"cost"`
	Speed       float64 `json:"speed"`
	Quality     float64 `json:"quality"`
	Reliability float64 `json:"reliability"`
	Parameter   float64 `json:"parameter"`
	Context     float64 `json:"context"`
	Free        float64 `json:"free"`
	Local       float64 `json:"local"`

	Total  float64 `json:"total_score"`
	Reason string  `json:"reason"`
}

// dimension returns a sub-score by field name; unknown fields return 0.
func (s *Score) dimension(field string) float64 {
	switch field {
	case "cost":
		return s.Cost
	case "speed":
		return s.Speed
	case "quality":
		return s.Quality
	case "reliability":
		return s.Reliability
	case "parameter":
		return s.Parameter
	case "context":
		return s.Context
	case "free":
		return s.Free
	case "local":
		return s.Local
	default:
		return 0
	}
}
