// Package usage prices token usage.
package usage

import (
	"errors"
	"fmt"
	"log/slog"

	"llmgateway/internal/catalog"
	"llmgateway/internal/core"
)

// ErrNoPricing is returned when the model has no configured pricing.
var ErrNoPricing = errors.New("no pricing configured")

// PricingResolver resolves pricing for a provider and upstream model name.
type PricingResolver interface {
	ResolvePricing(provider, model string) (*catalog.Pricing, bool)
}

// PricingCalculator implements core.CostCalculator over catalogue pricing.
type PricingCalculator struct {
	resolver PricingResolver
}

var _ core.CostCalculator = (*PricingCalculator)(nil)

// NewPricingCalculator creates a calculator backed by resolver.
func NewPricingCalculator(resolver PricingResolver) *PricingCalculator {
	return &PricingCalculator{resolver: resolver}
}

// Calculate prices usage for provider and the upstream model.
func (c *PricingCalculator) Calculate(provider, model string, usage core.Usage) (core.Cost, error) {
	if c == nil || c.resolver == nil {
		return core.Cost{}, ErrNoPricing
	}
	pricing, ok := c.resolver.ResolvePricing(provider, model)
	if !ok || pricing == nil {
		return core.Cost{}, fmt.Errorf("%w for %s/%s", ErrNoPricing, provider, model)
	}
	return CalculateCost(usage, *pricing), nil
}

// Price prices u with calc. It reports false when there is nothing to price
// or the model has no pricing; other calculation failures are logged.
func Price(calc core.CostCalculator, provider, model string, u core.Usage) (core.Cost, bool) {
	if calc == nil || u.IsZero() {
		return core.Cost{}, false
	}
	cost, err := calc.Calculate(provider, model, u)
	if err != nil {
		if !errors.Is(err, ErrNoPricing) {
			slog.Warn("cost calculation failed", "provider", provider, "model", model, "error", err)
		}
		return core.Cost{}, false
	}
	return cost, true
}
