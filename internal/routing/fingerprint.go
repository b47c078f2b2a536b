package routing

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"slices"
)

// Fingerprint is the canonical serialisation of the routing-relevant fields
// of a request. Equal requests produce equal cache keys across runs.
type Fingerprint struct {
	Model            string   `json:"model"`
	Strategy         string   `json:"strategy"`
	Capabilities     []string `json:"capabilities"`      // sorted
	MinContextLength int      `json:"min_context_length"`
	MaxCostPer1K     float64  `json:"max_cost_per_1k"`
	PreferLocal      bool     `json:"prefer_local"`
	ExcludeProviders []string `json:"exclude_providers"` // sorted
	MaxTokensBucket  int      `json:"max_tokens_bucket"`
	TempBucket       int      `json:"temp_bucket"`
	Stream           bool     `json:"stream"`
	HasFunctions     bool     `json:"has_functions"`
}

// NewFingerprint derives the fingerprint from a routing request. Continuous
// fields are bucketed so near-identical requests share a cache entry.
func NewFingerprint(req *Request) Fingerprint {
	caps := slices.Clone(req.RequiredCapabilities)
	slices.Sort(caps)
	excl := slices.Clone(req.ExcludeProviders)
	slices.Sort(excl)

	return Fingerprint{
		Model:            req.Model,
		Strategy:         req.Strategy,
		Capabilities:     caps,
		MinContextLength: req.MinContextLength,
		MaxCostPer1K:     req.MaxCostPer1K,
		PreferLocal:      req.PreferLocal,
		ExcludeProviders: excl,
		MaxTokensBucket:  req.MaxTokens / 512,
		TempBucket:       int(math.Round(req.Temperature * 10)),
		Stream:           req.Stream,
		HasFunctions:     req.HasFunctions,
	}
}

// CacheKey returns the SHA-256 hex of the canonical JSON form. Struct field
// order is fixed, so the serialisation is deterministic.
func (f Fingerprint) CacheKey() string {
	data, _ := json.Marshal(f)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
