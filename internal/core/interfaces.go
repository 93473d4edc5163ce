package core

// CostCalculator prices token usage for a resolved model.
type CostCalculator interface {
	// Calculate returns the cost of usage on the given provider and upstream model.
	Calculate(provider, model string, usage Usage) (Cost, error)
}
