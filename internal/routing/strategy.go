package routing

import (
	"github.com/smartai/router/internal/config"
)

// Strategy is a named sequence of sorting rules. Each rule contributes
// weight * dimension (or weight * (1 - dimension) for ascending order) to a
// candidate's total score.
type Strategy struct {
	Name  string
	Rules []config.SortRule
}

// builtinStrategies are the fixed routing strategies. Config-defined
// strategies under routing.sorting_strategies extend or shadow them.
var builtinStrategies = map[string][]config.SortRule{
	"cost_first": {
		{Field: "cost", Order: "desc", Weight: 0.55},
		{Field: "free", Order: "desc", Weight: 0.15},
		{Field: "quality", Order: "desc", Weight: 0.10},
		{Field: "reliability", Order: "desc", Weight: 0.10},
		{Field: "speed", Order: "desc", Weight: 0.10},
	},
	"cost_optimized": {
		{Field: "cost", Order: "desc", Weight: 0.45},
		{Field: "free", Order: "desc", Weight: 0.15},
		{Field: "quality", Order: "desc", Weight: 0.15},
		{Field: "reliability", Order: "desc", Weight: 0.15},
		{Field: "speed", Order: "desc", Weight: 0.10},
	},
	"free_first": {
		{Field: "free", Order: "desc", Weight: 0.50},
		{Field: "cost", Order: "desc", Weight: 0.20},
		{Field: "quality", Order: "desc", Weight: 0.10},
		{Field: "reliability", Order: "desc", Weight: 0.10},
		{Field: "speed", Order: "desc", Weight: 0.10},
	},
	"local_first": {
		{Field: "local", Order: "desc", Weight: 0.50},
		{Field: "speed", Order: "desc", Weight: 0.15},
		{Field: "quality", Order: "desc", Weight: 0.15},
		{Field: "cost", Order: "desc", Weight: 0.10},
		{Field: "reliability", Order: "desc", Weight: 0.10},
	},
	"speed_optimized": {
		{Field: "speed", Order: "desc", Weight: 0.45},
		{Field: "reliability", Order: "desc", Weight: 0.20},
		{Field: "cost", Order: "desc", Weight: 0.15},
		{Field: "quality", Order: "desc", Weight: 0.10},
		{Field: "context", Order: "desc", Weight: 0.10},
	},
	"quality_optimized": {
		{Field: "quality", Order: "desc", Weight: 0.40},
		{Field: "parameter", Order: "desc", Weight: 0.20},
		{Field: "context", Order: "desc", Weight: 0.15},
		{Field: "reliability", Order: "desc", Weight: 0.15},
		{Field: "cost", Order: "desc", Weight: 0.10},
	},
	"balanced": {
		{Field: "cost", Order: "desc", Weight: 0.20},
		{Field: "quality", Order: "desc", Weight: 0.20},
		{Field: "speed", Order: "desc", Weight: 0.15},
		{Field: "reliability", Order: "desc", Weight: 0.15},
		{Field: "parameter", Order: "desc", Weight: 0.10},
		{Field: "context", Order: "desc", Weight: 0.10},
		{Field: "free", Order: "desc", Weight: 0.05},
		{Field: "local", Order: "desc", Weight: 0.05},
	},
}

// ResolveStrategy returns the strategy for name, consulting config-defined
// strategies first, then built-ins, then falling back to defaultName and
// finally "balanced". Resolution never fails.
func ResolveStrategy(name, defaultName string, configured map[string][]config.SortRule) Strategy {
	for _, n := range []string{name, defaultName, "balanced"} {
		if n == "" {
			continue
		}
		if rules, ok := configured[n]; ok && len(rules) > 0 {
			return Strategy{Name: n, Rules: rules}
		}
		if rules, ok := builtinStrategies[n]; ok {
			return Strategy{Name: n, Rules: rules}
		}
	}
	return Strategy{Name: "balanced", Rules: builtinStrategies["balanced"]}
}

// apply computes the weighted total for a scored candidate.
func (s Strategy) apply(sc *Score) float64 {
	var total float64
	for _, rule := range s.Rules {
		v := sc.dimension(rule.Field)
		if rule.Order == "asc" {
			v = 1 - v
		}
		total += rule.Weight * v
	}
	return total
}
