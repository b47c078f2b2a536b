package routing

import (
	"strings"

	gateway "github.com/smartai/router/internal"
	"github.com/smartai/router/internal/modelmeta"
)

// Virtual selector prefixes.
const (
	tagPrefix  = "tag:"
	autoPrefix = "auto:"
)

// IsVirtualSelector reports whether the model field is a tag: or auto: selector.
func IsVirtualSelector(model string) bool {
	return strings.HasPrefix(model, tagPrefix) || strings.HasPrefix(model, autoPrefix)
}

// StrategyFromSelector extracts the strategy name from an "auto:..." selector,
// or "" for any other model field.
func StrategyFromSelector(model string) string {
	if s, ok := strings.CutPrefix(model, autoPrefix); ok {
		return s
	}
	return ""
}

// Discover resolves the request's model field into an unordered candidate set.
// Three modes: exact model, "tag:A,B,..." superset match, "auto:strategy".
// Blacklisted (channel, model) pairs are dropped.
func (r *Router) Discover(req *Request) ([]Candidate, error) {
	channels := r.registry.EnabledChannels()

	var candidates []Candidate
	switch {
	case strings.HasPrefix(req.Model, tagPrefix):
		tags := parseTagList(strings.TrimPrefix(req.Model, tagPrefix))
		if len(tags) == 0 {
			return nil, &gateway.TagNotFoundError{Tags: tags}
		}
		candidates = r.discoverByTags(channels, tags)
		if len(candidates) == 0 {
			return nil, &gateway.TagNotFoundError{Tags: tags}
		}

	case strings.HasPrefix(req.Model, autoPrefix):
		for _, ch := range channels {
			if ch.ModelName == "" {
				continue
			}
			candidates = append(candidates, Candidate{Channel: ch, MatchedModel: ch.ModelName})
		}

	default:
		candidates = r.discoverExact(channels, req.Model)
	}

	candidates = r.excludeProviders(candidates, req.ExcludeProviders)

	// Blacklist gate: drop barred pairs (and escalated channels).
	kept := candidates[:0]
	for _, c := range candidates {
		if barred, _ := r.blacklist.IsModelBlacklisted(c.Channel.ID, c.MatchedModel); barred {
			continue
		}
		kept = append(kept, c)
	}
	if len(kept) == 0 {
		return nil, gateway.ErrNoChannels
	}
	return kept, nil
}

// discoverExact matches channels whose default model or discovered catalog
// contains the requested model, case-insensitive and provider-prefix tolerant.
func (r *Router) discoverExact(channels []*gateway.Channel, model string) []Candidate {
	var out []Candidate
	for _, ch := range channels {
		if modelsMatch(ch.ModelName, model) {
			out = append(out, Candidate{Channel: ch, MatchedModel: ch.ModelName})
			continue
		}
		for _, m := range r.catalog.Models(ch.ID) {
			if modelsMatch(m, model) {
				out = append(out, Candidate{Channel: ch, MatchedModel: m})
				break
			}
		}
	}
	return out
}

// discoverByTags produces one candidate per (channel, concrete model) whose
// combined tag set (model-id derived + channel declared) covers every
// requested tag.
func (r *Router) discoverByTags(channels []*gateway.Channel, tags []string) []Candidate {
	var out []Candidate
	for _, ch := range channels {
		models := r.catalog.Models(ch.ID)
		if len(models) == 0 && ch.ModelName != "" {
			models = []string{ch.ModelName}
		}
		for _, m := range models {
			combined := append(modelmeta.DeriveTags(m), ch.Tags...)
			if modelmeta.HasAllTags(combined, tags) {
				out = append(out, Candidate{Channel: ch, MatchedModel: m})
			}
		}
	}
	return out
}

func (r *Router) excludeProviders(candidates []Candidate, exclude []string) []Candidate {
	if len(exclude) == 0 {
		return candidates
	}
	set := make(map[string]struct{}, len(exclude))
	for _, p := range exclude {
		set[strings.ToLower(p)] = struct{}{}
	}
	kept := candidates[:0]
	for _, c := range candidates {
		if _, skip := set[strings.ToLower(c.Channel.Provider)]; !skip {
			kept = append(kept, c)
		}
	}
	return kept
}

// parseTagList splits a comma-separated tag list, lowercasing and dropping
// empty fragments.
func parseTagList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// modelsMatch compares two model ids case-insensitively, tolerating a
// provider prefix on either side ("openai/gpt-4o-mini" matches "gpt-4o-mini").
func modelsMatch(a, b string) bool {
	a, b = strings.ToLower(a), strings.ToLower(b)
	if a == b {
		return true
	}
	return stripProviderPrefix(a) == stripProviderPrefix(b)
}

func stripProviderPrefix(model string) string {
	if _, bare, found := strings.Cut(model, "/"); found {
		return bare
	}
	return model
}
