package usage

import (
	"llmgateway/internal/catalog"
	"llmgateway/internal/core"
)

const perMillion = 1_000_000

// CalculateCost computes input, output and total cost of usage.
//
// Cached prompt tokens are billed at the cached input rate and the remaining
// prompt tokens at the input rate. A zero cached rate means cached tokens are
// billed like any other input token.
func CalculateCost(usage core.Usage, pricing catalog.Pricing) core.Cost {
	cached := usage.CachedTokens()
	if cached > usage.PromptTokens {
		cached = usage.PromptTokens
	}
	uncached := usage.PromptTokens - cached

	cachedRate := pricing.CachedInputPerMTok
	if cachedRate == 0 {
		cachedRate = pricing.InputPerMTok
	}

	input := float64(uncached)*pricing.InputPerMTok/perMillion +
		float64(cached)*cachedRate/perMillion
	output := float64(usage.CompletionTokens) * pricing.OutputPerMTok / perMillion

	return core.Cost{
		InputCost:  input,
		OutputCost: output,
		TotalCost:  input + output,
	}
}
