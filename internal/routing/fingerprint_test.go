package routing

import "testing"

func TestFingerprint_Deterministic(t *testing.T) {
	t.Parallel()

	a := &Request{
		Model:                "tag:free",
		Strategy:             "balanced",
		RequiredCapabilities: []string{"vision", "streaming"},
		ExcludeProviders:     []string{"b", "a"},
		MaxTokens:            1000,
		Temperature:          0.73,
	}
	b := &Request{
		Model:                "tag:free",
		Strategy:             "balanced",
		RequiredCapabilities: []string{"streaming", "vision"},
		ExcludeProviders:     []string{"a", "b"},
		MaxTokens:            1000,
		Temperature:          0.73,
	}
	if NewFingerprint(a).CacheKey() != NewFingerprint(b).CacheKey() {
		t.Error("slice order should not change the cache key")
	}
}

func TestFingerprint_Bucketing(t *testing.T) {
	t.Parallel()

	base := &Request{Model: "gpt-4o", Strategy: "balanced"}

	// Near-identical continuous values share a bucket.
	a, b := *base, *base
	a.MaxTokens, b.MaxTokens = 100, 500
	a.Temperature, b.Temperature = 0.70, 0.72
	if NewFingerprint(&a).CacheKey() != NewFingerprint(&b).CacheKey() {
		t.Error("values within a bucket should share a key")
	}

	// Crossing a bucket boundary changes the key.
	b.MaxTokens = 600
	if NewFingerprint(&a).CacheKey() == NewFingerprint(&b).CacheKey() {
		t.Error("values across the max_tokens bucket should differ")
	}

	c := *base
	c.Temperature = 0.9
	if NewFingerprint(base).CacheKey() == NewFingerprint(&c).CacheKey() {
		t.Error("distinct temperature buckets should differ")
	}
}

func TestFingerprint_DistinguishesRoutingFields(t *testing.T) {
	t.Parallel()

	base := Request{Model: "gpt-4o", Strategy: "balanced"}
	variants := []Request{
		{Model: "gpt-4o-mini", Strategy: "balanced"},
		{Model: "gpt-4o", Strategy: "cost_first"},
		{Model: "gpt-4o", Strategy: "balanced", Stream: true},
		{Model: "gpt-4o", Strategy: "balanced", PreferLocal: true},
		{Model: "gpt-4o", Strategy: "balanced", MinContextLength: 32768},
	}
	baseKey := NewFingerprint(&base).CacheKey()
	for i, v := range variants {
		if NewFingerprint(&v).CacheKey() == baseKey {
			t.Errorf("variant %d should not collide with the base key", i)
		}
	}
}
