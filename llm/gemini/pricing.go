package gemini

import "github.com/storyloom/loom/cost"

// Model IDs this provider knows pricing for.
const (
	ModelGemini25Pro       = "gemini-2.5-pro"
	ModelGemini25Flash     = "gemini-2.5-flash"
	ModelGemini25FlashLite = "gemini-2.5-flash-lite"
	ModelGemini20Flash     = "gemini-2.0-flash"
)

// estimatedPricing is used for unknown models so cost accounting still
// produces a number; it is deliberately on the high side.
var estimatedPricing = cost.Pricing{
	Model: "estimated",
	Tiers: []cost.Tier{{InputRate: 2.0, OutputRate: 6.0, CachedRate: 0.5, StorageRate: 1.0}},
}

// modelPricing holds USD rates per 1M tokens; StorageRate is per 1M cached
// tokens per hour. Pro pricing is tiered: prompts over 200k tokens bill at
// the long-context rate.
var modelPricing = map[string]cost.Pricing{
	ModelGemini25Pro: {
		Model: ModelGemini25Pro,
		Tiers: []cost.Tier{
			{InputRate: 1.25, OutputRate: 10.00, CachedRate: 0.31, StorageRate: 4.50},
			{InputRate: 2.50, OutputRate: 15.00, CachedRate: 0.625, StorageRate: 4.50, PromptThreshold: 200_000},
		},
	},
	ModelGemini25Flash: {
		Model: ModelGemini25Flash,
		Tiers: []cost.Tier{
			{InputRate: 0.30, OutputRate: 2.50, CachedRate: 0.075, StorageRate: 1.00},
		},
	},
	ModelGemini25FlashLite: {
		Model: ModelGemini25FlashLite,
		Tiers: []cost.Tier{
			{InputRate: 0.10, OutputRate: 0.40, CachedRate: 0.025, StorageRate: 1.00},
		},
	},
	ModelGemini20Flash: {
		Model: ModelGemini20Flash,
		Tiers: []cost.Tier{
			{InputRate: 0.10, OutputRate: 0.40, CachedRate: 0.025, StorageRate: 1.00},
		},
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
