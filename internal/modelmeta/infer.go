package modelmeta

// Deterministic inference ladders for models whose catalog entry is missing a
// quality or speed score. The rules are fixed so repeated queries agree.

// parameterScore buckets a parameter count (millions) into [0.3, 1.0].
// The same ladder serves the quality fallback and the parameter dimension.
func parameterScore(millions float64) float64 {
	switch {
	case millions >= 70_000:
		return 1.0
	case millions >= 30_000:
		return 0.9
	case millions >= 10_000:
		return 0.8
	case millions >= 7_000:
		return 0.7
	case millions >= 3_000:
		return 0.6
	case millions >= 1_000:
		return 0.5
	case millions >= 100:
		return 0.4
	default:
		return 0.3
	}
}

// contextScore buckets a context length into [0.3, 1.0].
func contextScore(contextLength int) float64 {
	switch {
	case contextLength >= 1_000_000:
		return 1.0
	case contextLength >= 200_000:
		return 0.9
	case contextLength >= 32_000:
		return 0.8
	case contextLength >= 16_000:
		return 0.7
	case contextLength >= 8_000:
		return 0.6
	case contextLength >= 4_000:
		return 0.5
	default:
		return 0.3
	}
}

// providerReputation is a fixed quality prior per provider, used when neither
// the catalog nor the model id yields a parameter count.
var providerReputation = map[string]float64{
	"openai":      0.9,
	"anthropic":   0.9,
	"gemini":      0.85,
	"openrouter":  0.7,
	"groq":        0.7,
	"siliconflow": 0.6,
	"ollama":      0.5,
	"lmstudio":    0.5,
}

// inferQuality returns a quality score for a model with no catalog score:
// parameter-count ladder when a count is known, provider reputation otherwise.
func inferQuality(paramMillions float64, provider string) float64 {
	if paramMillions > 0 {
		return parameterScore(paramMillions)
	}
	if rep, ok := providerReputation[provider]; ok {
		return rep
	}
	return 0.5
}

// localProviders are providers whose models run on the operator's hardware.
var localProviders = map[string]struct{}{
	"ollama":   {},
	"lmstudio": {},
}

// IsLocalProvider reports whether the provider serves local models.
func IsLocalProvider(name string) bool {
	_, ok := localProviders[name]
	return ok
}
