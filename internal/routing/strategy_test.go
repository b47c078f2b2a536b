package routing

import (
	"math"
	"testing"

	"github.com/smartai/router/internal/config"
)

func TestResolveStrategy(t *testing.T) {
	t.Parallel()

	configured := map[string][]config.SortRule{
		"custom": {{Field: "cost", Order: "desc", Weight: 1.0}},
		// Shadows the built-in of the same name.
		"balanced": {{Field: "speed", Order: "desc", Weight: 1.0}},
	}

	tests := []struct {
		name        string
		strategy    string
		defaultName string
		wantName    string
		wantRules   int
	}{
		{"builtin", "cost_first", "", "cost_first", 5},
		{"configured", "custom", "", "custom", 1},
		{"configured_shadows_builtin", "balanced", "", "balanced", 1},
		{"unknown_falls_to_default", "nope", "quality_optimized", "quality_optimized", 5},
		{"unknown_default_falls_to_balanced", "nope", "also-nope", "balanced", 1},
		{"empty", "", "", "balanced", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ResolveStrategy(tt.strategy, tt.defaultName, configured)
			if got.Name != tt.wantName {
				t.Errorf("name = %s, want %s", got.Name, tt.wantName)
			}
			if len(got.Rules) != tt.wantRules {
				t.Errorf("rules = %d, want %d", len(got.Rules), tt.wantRules)
			}
		})
	}
}

func TestResolveStrategy_NoConfigured(t *testing.T) {
	t.Parallel()

	got := ResolveStrategy("balanced", "", nil)
	if got.Name != "balanced" || len(got.Rules) != 8 {
		t.Errorf("got %s with %d rules, want builtin balanced with 8", got.Name, len(got.Rules))
	}
}

func TestStrategy_Apply(t *testing.T) {
	t.Parallel()

	s := Strategy{Rules: []config.SortRule{
		{Field: "cost", Order: "desc", Weight: 2.0},
		{Field: "speed", Order: "asc", Weight: 1.0},
	}}
	sc := &Score{Cost: 0.8, Speed: 0.3}

	want := 2.0*0.8 + 1.0*(1-0.3)
	if got := s.apply(sc); math.Abs(got-want) > 1e-9 {
		t.Errorf("apply = %f, want %f", got, want)
	}
}

func TestStrategy_ApplyUnknownField(t *testing.T) {
	t.Parallel()

	s := Strategy{Rules: []config.SortRule{{Field: "bogus", Order: "desc", Weight: 1.0}}}
	if got := s.apply(&Score{Cost: 1}); got != 0 {
		t.Errorf("unknown field contributed %f, want 0", got)
	}
}
