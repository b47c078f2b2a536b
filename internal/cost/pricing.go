package cost

import (
	gateway "github.com/smartai/router/internal"
)

// Breakdown is a priced usage record component set, in USD unless the
// channel declares a currency exchange.
type Breakdown struct {
	InputCost  float64
	OutputCost float64
	TotalCost  float64
	Currency   string
}

// Price computes the cost of a completed request. Model-level pricing (USD
// per million tokens) is authoritative; the channel's per-token rates are the
// fallback. A channel currency exchange converts the final figure.
func Price(meta gateway.ModelMetadata, ch *gateway.Channel, usage gateway.Usage) Breakdown {
	inPerTok := meta.PricingInput / 1e6
	outPerTok := meta.PricingOutput / 1e6
	if meta.PricingInput == 0 && meta.PricingOutput == 0 && ch.CostPerToken != nil {
		inPerTok = ch.CostPerToken.Input
		outPerTok = ch.CostPerToken.Output
	}

	b := Breakdown{
		InputCost:  float64(usage.PromptTokens) * inPerTok,
		OutputCost: float64(usage.CompletionTokens) * outPerTok,
		Currency:   "USD",
	}
	if ch.CurrencyExchange != nil && ch.CurrencyExchange.Rate > 0 {
		b.InputCost *= ch.CurrencyExchange.Rate
		b.OutputCost *= ch.CurrencyExchange.Rate
		if ch.CurrencyExchange.To != "" {
			b.Currency = ch.CurrencyExchange.To
		}
	}
	b.TotalCost = b.InputCost + b.OutputCost
	return b
}

// Estimate prices a hypothetical request of the given token counts, used for
// the pre-dispatch estimate in the routing summary.
func Estimate(meta gateway.ModelMetadata, ch *gateway.Channel, promptTokens, completionTokens int) float64 {
	return Price(meta, ch, gateway.Usage{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
	}).TotalCost
}
