// Package modelmeta implements the unified model metadata registry: an
// OpenRouter-style catalog merged with provider and channel overrides, a tag
// index, and deterministic score inference for unknown models.
package modelmeta

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	gateway "github.com/smartai/router/internal"
)

// catalogFile is the OpenRouter-style model list document.
type catalogFile struct {
	Data []catalogModel `json:"data"`
}

type catalogModel struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ContextLength int    `json:"context_length"`
	Architecture  struct {
		Modality         string   `json:"modality"`
		InputModalities  []string `json:"input_modalities"`
		OutputModalities []string `json:"output_modalities"`
	} `json:"architecture"`
	Pricing struct {
		Prompt     string `json:"prompt"`     // USD per token
		Completion string `json:"completion"` // USD per token
	} `json:"pricing"`
	SupportedParameters []string `json:"supported_parameters"`
}

// Override adjusts metadata for a provider or a channel layer.
type Override struct {
	PricingMultiplier float64 `json:"pricing_multiplier,omitempty"`
	Free              bool    `json:"free,omitempty"`
	Local             bool    `json:"local,omitempty"`
	QualityScore      float64 `json:"quality_score,omitempty"`
	SpeedScore        float64 `json:"speed_score,omitempty"`
	ContextLength     int     `json:"context_length,omitempty"`
}

// Registry answers capability, context length, pricing, and tag queries for
// any (model, provider) pair. Queries for unknown models fall back to
// heuristics and never fail.
type Registry struct {
	mu               sync.RWMutex
	base             map[string]gateway.ModelMetadata // key: lowercase model id
	tagIndex         map[string]map[string]struct{}   // tag -> set of model ids
	providerOverride map[string]Override
	channelOverride  map[string]Override
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		base:             make(map[string]gateway.ModelMetadata),
		tagIndex:         make(map[string]map[string]struct{}),
		providerOverride: make(map[string]Override),
		channelOverride:  make(map[string]Override),
	}
}

// LoadDir loads the three metadata layers from cacheDir:
// model_catalog.json (base), provider_overrides.json, channel_overrides.json.
// Missing files are not errors; the registry simply has fewer layers.
func LoadDir(cacheDir string) (*Registry, error) {
	r := NewRegistry()

	catalogPath := filepath.Join(cacheDir, "model_catalog.json")
	if data, err := os.ReadFile(catalogPath); err == nil {
		if err := r.LoadCatalog(data); err != nil {
			return nil, fmt.Errorf("load catalog: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	if data, err := os.ReadFile(filepath.Join(cacheDir, "provider_overrides.json")); err == nil {
		if err := json.Unmarshal(data, &r.providerOverride); err != nil {
			return nil, fmt.Errorf("parse provider overrides: %w", err)
		}
	}
	if data, err := os.ReadFile(filepath.Join(cacheDir, "channel_overrides.json")); err == nil {
		if err := json.Unmarshal(data, &r.channelOverride); err != nil {
			return nil, fmt.Errorf("parse channel overrides: %w", err)
		}
	}
	return r, nil
}

// LoadCatalog parses an OpenRouter-style catalog document and rebuilds the
// base layer and tag index.
func (r *Registry) LoadCatalog(data []byte) error {
	var cat catalogFile
	if err := json.Unmarshal(data, &cat); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range cat.Data {
		meta := fromCatalog(m)
		key := strings.ToLower(m.ID)
		r.base[key] = meta
		for _, t := range meta.Tags {
			set, ok := r.tagIndex[t]
			if !ok {
				set = make(map[string]struct{})
				r.tagIndex[t] = set
			}
			set[key] = struct{}{}
		}
	}
	return nil
}

// SetProviderOverride installs an override layer for a provider (tests, admin).
func (r *Registry) SetProviderOverride(provider string, o Override) {
	r.mu.Lock()
	r.providerOverride[provider] = o
	r.mu.Unlock()
}

// SetChannelOverride installs an override layer for a channel.
func (r *Registry) SetChannelOverride(channelID string, o Override) {
	r.mu.Lock()
	r.channelOverride[channelID] = o
	r.mu.Unlock()
}

func fromCatalog(m catalogModel) gateway.ModelMetadata {
	meta := gateway.ModelMetadata{
		ID:                  m.ID,
		ContextLength:       m.ContextLength,
		Modality:            m.Architecture.Modality,
		InputModalities:     m.Architecture.InputModalities,
		OutputModalities:    m.Architecture.OutputModalities,
		SupportedParameters: m.SupportedParameters,
		PricingInput:        perMillion(m.Pricing.Prompt),
		PricingOutput:       perMillion(m.Pricing.Completion),
		SupportsStreaming:   true,
		Tags:                DeriveTags(m.ID),
		ParameterCount:      InferParameterCount(m.ID),
	}
	for _, im := range meta.InputModalities {
		if im == "image" {
			meta.SupportsVision = true
		}
		if im == "audio" {
			meta.SupportsAudio = true
		}
	}
	if !meta.SupportsVision && strings.Contains(meta.Modality, "image") {
		meta.SupportsVision = true
	}
	for _, p := range meta.SupportedParameters {
		if p == "tools" || p == "tool_choice" {
			meta.SupportsTools = true
		}
	}
	meta.IsFree = meta.PricingInput == 0 && meta.PricingOutput == 0
	return meta
}

// perMillion converts an OpenRouter per-token price string to USD per 1e6 tokens.
func perMillion(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v * 1e6
}

// Get returns the merged metadata for a model. Precedence: base catalog ->
// provider override -> channel override. Unknown models yield heuristic
// metadata with known=false; Get never fails.
func (r *Registry) Get(modelID, provider, channelID string) (gateway.ModelMetadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key := strings.ToLower(modelID)
	meta, known := r.base[key]
	if !known {
		// Provider-prefix tolerant: "openai/gpt-4o-mini" matches "gpt-4o-mini"
		// and vice versa.
		if _, bare, found := strings.Cut(key, "/"); found {
			meta, known = r.base[bare]
		} else if provider != "" {
			meta, known = r.base[provider+"/"+key]
		}
	}
	if !known {
		meta = heuristicMetadata(modelID, provider)
	}
	meta.Provider = provider

	if o, ok := r.providerOverride[provider]; ok {
		applyOverride(&meta, o)
	}
	if o, ok := r.channelOverride[channelID]; ok {
		applyOverride(&meta, o)
	}
	if meta.QualityScore == 0 {
		meta.QualityScore = inferQuality(meta.ParameterCount, provider)
	}
	if meta.SpeedScore == 0 {
		meta.SpeedScore = 0.8
	}
	if IsLocalProvider(provider) {
		meta.IsLocal = true
		meta.IsFree = true
	}
	meta.IsFree = meta.IsFree || (meta.PricingInput == 0 && meta.PricingOutput == 0)
	return meta, known
}

// heuristicMetadata builds a best-effort view for a model with no catalog entry.
func heuristicMetadata(modelID, provider string) gateway.ModelMetadata {
	params := InferParameterCount(modelID)
	lower := strings.ToLower(modelID)
	meta := gateway.ModelMetadata{
		ID:                modelID,
		ParameterCount:    params,
		ContextLength:     8192,
		SupportsStreaming: true,
		Tags:              DeriveTags(modelID),
	}
	// Vision markers in local model names (llava etc).
	for _, marker := range []string{"llava", "vision", "vl"} {
		if strings.Contains(lower, marker) {
			meta.SupportsVision = true
		}
	}
	for _, marker := range []string{"hermes", "tool", "func"} {
		if strings.Contains(lower, marker) {
			meta.SupportsTools = true
		}
	}
	if !IsLocalProvider(provider) {
		// Cloud models usually have generous context; stay optimistic.
		meta.ContextLength = 128_000
		meta.SupportsTools = true
	}
	return meta
}

func applyOverride(meta *gateway.ModelMetadata, o Override) {
	if o.PricingMultiplier > 0 {
		meta.PricingInput *= o.PricingMultiplier
		meta.PricingOutput *= o.PricingMultiplier
	}
	if o.Free {
		meta.PricingInput = 0
		meta.PricingOutput = 0
		meta.IsFree = true
	}
	if o.Local {
		meta.IsLocal = true
	}
	if o.QualityScore > 0 {
		meta.QualityScore = o.QualityScore
	}
	if o.SpeedScore > 0 {
		meta.SpeedScore = o.SpeedScore
	}
	if o.ContextLength > 0 {
		meta.ContextLength = o.ContextLength
	}
}

// FindByTags returns the ids of catalog models whose tag set contains every
// requested tag, sorted for determinism. provider filters by id prefix when
// non-empty.
func (r *Registry) FindByTags(tags []string, provider string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(tags) == 0 {
		return nil
	}
	// Intersect tag sets, starting from the smallest.
	var result map[string]struct{}
	for _, t := range tags {
		set, ok := r.tagIndex[strings.ToLower(t)]
		if !ok {
			return nil
		}
		if result == nil {
			result = make(map[string]struct{}, len(set))
			for id := range set {
				result[id] = struct{}{}
			}
			continue
		}
		for id := range result {
			if _, ok := set[id]; !ok {
				delete(result, id)
			}
		}
		if len(result) == 0 {
			return nil
		}
	}

	out := make([]string, 0, len(result))
	for id := range result {
		if provider != "" && !strings.HasPrefix(id, provider+"/") {
			continue
		}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// FreeModels returns the ids of all zero-priced catalog models, sorted.
func (r *Registry) FreeModels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for id, m := range r.base {
		if m.IsFree {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// VisionModels returns the ids of all vision-capable catalog models, sorted.
func (r *Registry) VisionModels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for id, m := range r.base {
		if m.SupportsVision {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// ParameterScore exposes the bucket ladder for the scorer's parameter dimension.
func ParameterScore(millions float64) float64 { return parameterScore(millions) }

// ContextScore exposes the bucket ladder for the scorer's context dimension.
func ContextScore(contextLength int) float64 { return contextScore(contextLength) }
