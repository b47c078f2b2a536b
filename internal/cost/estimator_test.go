package cost

import (
	"encoding/json"
	"testing"

	gateway "github.com/smartai/router/internal"
)

func TestEstimator_CountText(t *testing.T) {
	t.Parallel()

	e := NewEstimator()
	if got := e.CountText(""); got != 0 {
		t.Errorf("empty = %d, want 0", got)
	}
	if got := e.CountText("Hello, world!"); got < 2 || got > 10 {
		t.Errorf("short sentence = %d tokens, want a small positive count", got)
	}
}

func TestEstimator_EstimateRequest(t *testing.T) {
	t.Parallel()

	e := NewEstimator()
	messages := []gateway.Message{
		{Role: "system", Content: json.RawMessage(`"You are helpful."`)},
		{Role: "user", Content: json.RawMessage(`"Hello"`)},
	}
	got := e.EstimateRequest(messages)
	// Two messages carry at least 2*4 overhead plus the 3-token primer.
	if got < 11 {
		t.Errorf("EstimateRequest = %d, want >= 11", got)
	}

	// Multi-part content counts its text parts.
	parts := []gateway.Message{{
		Role:    "user",
		Content: json.RawMessage(`[{"type":"text","text":"describe this"},{"type":"image_url","image_url":{"url":"data:..."}}]`),
	}}
	if got := e.EstimateRequest(parts); got < 8 {
		t.Errorf("multi-part = %d, want >= 8", got)
	}
}

func TestEstimator_EstimateCompletion(t *testing.T) {
	t.Parallel()

	e := NewEstimator()
	tests := []struct {
		name      string
		prompt    int
		maxTokens int
		want      int
	}{
		{"explicit_max_wins", 5000, 256, 256},
		{"tiny_prompt", 40, 0, 25},     // base 50, halved
		{"medium_prompt", 500, 0, 500}, // base as-is
		{"long_prompt", 2000, 0, 2000}, // base 1000, doubled
		{"huge_prompt", 8000, 0, 3000}, // base 1000, tripled
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := e.EstimateCompletion(tt.prompt, tt.maxTokens); got != tt.want {
				t.Errorf("EstimateCompletion(%d, %d) = %d, want %d", tt.prompt, tt.maxTokens, got, tt.want)
			}
		})
	}
}

func TestHeuristicTokens(t *testing.T) {
	t.Parallel()

	// Four latin characters per token.
	if got := heuristicTokens("abcdefgh"); got != 2 {
		t.Errorf("latin = %d, want 2", got)
	}
	// Two CJK characters per token.
	if got := heuristicTokens("你好世界"); got != 2 {
		t.Errorf("cjk = %d, want 2", got)
	}
	if got := heuristicTokens("!"); got != 1 {
		t.Errorf("minimum = %d, want 1", got)
	}
}
