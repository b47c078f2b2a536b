package routing

import (
	"context"
	"log/slog"
	"time"

	gateway "github.com/smartai/router/internal"
	"github.com/smartai/router/internal/blacklist"
	"github.com/smartai/router/internal/config"
	"github.com/smartai/router/internal/modelmeta"
)

// Router runs the selection pipeline: discovery, capability filtering,
// scoring, and the fingerprint-keyed decision cache.
type Router struct {
	registry   *config.Registry
	runtime    *config.RuntimeState
	meta       *modelmeta.Registry
	catalog    *modelmeta.ChannelCatalog
	blacklist  *blacklist.Manager
	scorer     *Scorer
	selections *SelectionCache
	logger     *slog.Logger
}

// NewRouter wires the routing pipeline over shared state.
func NewRouter(
	registry *config.Registry,
	runtime *config.RuntimeState,
	meta *modelmeta.Registry,
	catalog *modelmeta.ChannelCatalog,
	bl *blacklist.Manager,
	logger *slog.Logger,
) *Router {
	return &Router{
		registry:   registry,
		runtime:    runtime,
		meta:       meta,
		catalog:    catalog,
		blacklist:  bl,
		scorer:     NewScorer(meta, runtime),
		selections: NewSelectionCache(0),
		logger:     logger,
	}
}

// Selections exposes the decision cache for invalidation by the dispatcher
// and the maintenance worker.
func (r *Router) Selections() *SelectionCache { return r.selections }

// Route resolves a request to a primary channel and an ordered failover list.
// Decisions are cached by request fingerprint for one minute; a cache hit
// skips discovery and scoring entirely.
func (r *Router) Route(ctx context.Context, req *Request) (*Selection, error) {
	DetectCapabilities(req)
	if req.Strategy == "" {
		req.Strategy = StrategyFromSelector(req.Model)
	}
	routing := r.registry.Routing()
	strat := ResolveStrategy(req.Strategy, routing.DefaultStrategy, routing.SortingStrategies)
	req.Strategy = strat.Name

	key := NewFingerprint(req).CacheKey()
	if sel, ok := r.selections.Get(key); ok {
		r.logger.LogAttrs(ctx, slog.LevelDebug, "selection cache hit",
			slog.String("model", req.Model),
			slog.String("channel", sel.Primary.ChannelID))
		return sel, nil
	}

	candidates, err := r.Discover(req)
	if err != nil {
		return nil, err
	}

	candidates = r.FilterByCapability(req, candidates)
	candidates = r.filterByCost(req, candidates)
	if len(candidates) == 0 {
		return nil, gateway.ErrNoChannels
	}

	scores, err := r.scorer.Score(ctx, req, candidates, strat)
	if err != nil {
		return nil, err
	}
	if req.PreferLocal {
		scores = localsFirst(scores)
	}

	sel := &Selection{
		Primary:       scores[0],
		Reason:        scores[0].Reason,
		EstimatedCost: r.estimatedCostPer1K(scores[0]),
		CachedAt:      time.Now(),
	}
	for _, s := range scores[1:min(len(scores), 1+maxBackups)] {
		sel.Backups = append(sel.Backups, s)
	}
	r.selections.Put(key, sel)

	r.logger.LogAttrs(ctx, slog.LevelInfo, "routed",
		slog.String("model", req.Model),
		slog.String("strategy", strat.Name),
		slog.String("channel", sel.Primary.ChannelID),
		slog.String("matched_model", sel.Primary.MatchedModel),
		slog.Int("candidates", len(candidates)),
		slog.Int("backups", len(sel.Backups)))
	return sel, nil
}

// filterByCost enforces the request's max_cost_per_1k constraint against the
// blended model price.
func (r *Router) filterByCost(req *Request, candidates []Candidate) []Candidate {
	if req.MaxCostPer1K <= 0 {
		return candidates
	}
	kept := candidates[:0]
	for _, c := range candidates {
		meta, known := r.meta.Get(c.MatchedModel, c.Channel.Provider, c.Channel.ID)
		if !known {
			kept = append(kept, c)
			continue
		}
		per1K := (meta.PricingInput + meta.PricingOutput) / 2 / 1000
		if per1K <= req.MaxCostPer1K {
			kept = append(kept, c)
		}
	}
	return kept
}

// estimatedCostPer1K is the blended USD price per thousand tokens of the
// selected model, for the selection record and the summary event.
func (r *Router) estimatedCostPer1K(s Score) float64 {
	meta, known := r.meta.Get(s.MatchedModel, s.Channel.Provider, s.Channel.ID)
	if known && (meta.PricingInput > 0 || meta.PricingOutput > 0) {
		return (meta.PricingInput + meta.PricingOutput) / 2 / 1000
	}
	if s.Channel.CostPerToken != nil {
		return (s.Channel.CostPerToken.Input + s.Channel.CostPerToken.Output) / 2 * 1000
	}
	return 0
}

// localsFirst stably moves local candidates ahead of remote ones while
// preserving score order within each group.
func localsFirst(scores []Score) []Score {
	out := make([]Score, 0, len(scores))
	for _, s := range scores {
		if s.Local >= 1.0 {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return scores
	}
	for _, s := range scores {
		if s.Local < 1.0 {
			out = append(out, s)
		}
	}
	return out
}
