package routing

import (
	"context"
	"testing"

	gateway "github.com/smartai/router/internal"
	"github.com/smartai/router/internal/config"
	"github.com/smartai/router/internal/testutil"
)

func TestSortScores_Tiebreak(t *testing.T) {
	t.Parallel()

	chA := testutil.TestChannel("a", "", 20)
	chB := testutil.TestChannel("b", "", 10)
	chC := testutil.TestChannel("c", "", 10)
	chD := testutil.TestChannel("d", "", 10)

	scores := []Score{
		{Channel: chA, ChannelID: "a", Total: 0.5},
		{Channel: chB, ChannelID: "b", Total: 0.5, Parameter: 0.2},
		{Channel: chC, ChannelID: "c", Total: 0.5, Parameter: 0.2},
		{Channel: chD, ChannelID: "d", Total: 0.9},
	}
	sortScores(scores)

	// Highest total first; within the epsilon tie, priority asc, then
	// parameter desc, then id asc.
	want := []string{"d", "b", "c", "a"}
	for i, w := range want {
		if scores[i].ChannelID != w {
			t.Fatalf("order = %v at %d, want %v", scores[i].ChannelID, i, want)
		}
	}
}

func TestSortScores_EpsilonTie(t *testing.T) {
	t.Parallel()

	chA := testutil.TestChannel("a", "", 10)
	chB := testutil.TestChannel("b", "", 5)
	scores := []Score{
		{Channel: chA, ChannelID: "a", Total: 0.5000000004},
		{Channel: chB, ChannelID: "b", Total: 0.5},
	}
	sortScores(scores)
	if scores[0].ChannelID != "b" {
		t.Error("scores within epsilon should fall through to priority")
	}
}

func TestCostScore(t *testing.T) {
	t.Parallel()

	ch := testutil.TestChannel("a", "", 10)

	// Model pricing is authoritative: blended (10+30)/2 = 20 per 1M.
	got := costScore(ch, gateway.ModelMetadata{PricingInput: 10, PricingOutput: 30})
	if want := 1 - 20.0/50.0; got != want {
		t.Errorf("costScore = %f, want %f", got, want)
	}

	// No pricing anywhere means free.
	if got := costScore(ch, gateway.ModelMetadata{}); got != 1.0 {
		t.Errorf("free costScore = %f, want 1.0", got)
	}

	// Channel fallback is per-token; 1e-5 USD/token = 10 USD/1M.
	ch.CostPerToken = &gateway.CostPerToken{Input: 1e-5, Output: 1e-5}
	if got, want := costScore(ch, gateway.ModelMetadata{}), 1-10.0/50.0; got != want {
		t.Errorf("fallback costScore = %f, want %f", got, want)
	}

	// Currency exchange applies before normalisation.
	ch.CurrencyExchange = &gateway.CurrencyExchange{From: "CNY", To: "USD", Rate: 0.14}
	if got, want := costScore(ch, gateway.ModelMetadata{}), 1-10.0*0.14/50.0; got != want {
		t.Errorf("exchange costScore = %f, want %f", got, want)
	}

	// Expensive models floor at zero.
	if got := costScore(testutil.TestChannel("b", "", 10), gateway.ModelMetadata{PricingInput: 100, PricingOutput: 100}); got != 0 {
		t.Errorf("expensive costScore = %f, want 0", got)
	}
}

func TestIsLocalChannel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ch   *gateway.Channel
		want bool
	}{
		{"tagged_local", testutil.TestChannel("a", "https://api.example.com", 1, "local"), true},
		{"tagged_ollama", testutil.TestChannel("b", "https://api.example.com", 1, "Ollama"), true},
		{"localhost_url", testutil.TestChannel("c", "http://localhost:11434/v1", 1), true},
		{"loopback_ip", testutil.TestChannel("d", "http://127.0.0.1:8080", 1), true},
		{"private_ip", testutil.TestChannel("e", "http://192.168.1.10:8080", 1), true},
		{"public", testutil.TestChannel("f", "https://api.openai.com/v1", 1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := isLocalChannel(tt.ch); got != tt.want {
				t.Errorf("isLocalChannel = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScorer_SpeedFromLatency(t *testing.T) {
	t.Parallel()

	runtime := config.NewRuntimeState()
	r := newTestRouter(t, testutil.TestChannel("a", "http://a", 10))
	scorer := NewScorer(r.meta, runtime)

	ch := testutil.TestChannel("a", "http://a", 10)
	candidates := []Candidate{{Channel: ch, MatchedModel: "some-unknown-model"}}

	// Under three samples, the declared performance score wins.
	ch.Performance = &gateway.Performance{SpeedScore: 0.8}
	scores, err := scorer.Score(context.Background(), &Request{Model: "some-unknown-model"}, candidates, ResolveStrategy("speed_optimized", "", nil))
	if err != nil {
		t.Fatal(err)
	}
	if scores[0].Speed != 0.8 {
		t.Errorf("declared speed = %f, want 0.8", scores[0].Speed)
	}

	// With enough samples, rolling latency replaces it: 1000ms avg -> 0.5.
	for range 3 {
		runtime.ReportOutcome("a", true, 1000)
	}
	scorer2 := NewScorer(r.meta, runtime)
	scores, err = scorer2.Score(context.Background(), &Request{Model: "some-unknown-model"}, candidates, ResolveStrategy("speed_optimized", "", nil))
	if err != nil {
		t.Fatal(err)
	}
	if scores[0].Speed != 0.5 {
		t.Errorf("latency speed = %f, want 0.5", scores[0].Speed)
	}
}
