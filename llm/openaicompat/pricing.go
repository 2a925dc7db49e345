package openaicompat

import "github.com/storyloom/loom/cost"

var estimatedPricing = cost.Pricing{
	Model: "estimated",
	Tiers: []cost.Tier{{InputRate: 2.0, OutputRate: 6.0, CachedRate: 0.5}},
}

// modelPricing holds USD rates per 1M tokens. The chat-completions cache is
// implicit, so there is no storage rate.
var modelPricing = map[string]cost.Pricing{
	"gpt-4o": {
		Model: "gpt-4o",
		Tiers: []cost.Tier{{InputRate: 2.50, OutputRate: 10.00, CachedRate: 1.25}},
	},
	"gpt-4o-mini": {
		Model: "gpt-4o-mini",
		Tiers: []cost.Tier{{InputRate: 0.15, OutputRate: 0.60, CachedRate: 0.075}},
	},
	"gpt-4.1": {
		Model: "gpt-4.1",
		Tiers: []cost.Tier{{InputRate: 2.00, OutputRate: 8.00, CachedRate: 0.50}},
	},
	"gpt-4.1-mini": {
		Model: "gpt-4.1-mini",
		Tiers: []cost.Tier{{InputRate: 0.40, OutputRate: 1.60, CachedRate: 0.10}},
	},
}

// PricingFor returns the tier table for a model, falling back to an
// estimate for unknown IDs.
func PricingFor(model string) cost.Pricing {
	if p, ok := modelPricing[model]; ok {
		return p
	}
	return estimatedPricing
}
