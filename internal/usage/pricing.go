package usage

import (
	"sort"
	"strings"
)

// ModelPricing defines the cost per million tokens for a model.
type ModelPricing struct {
	InputPerMillion  float64 // Cost per 1M input tokens
	OutputPerMillion float64 // Cost per 1M output tokens
}

// PricingTable maps Gemini model name patterns to their list pricing in USD per
// million tokens. Audio output of the TTS models is billed as output tokens.
var PricingTable = map[string]ModelPricing{
	"gemini-3-pro":                 {2.00, 12.00},
	"gemini-3-flash":               {0.50, 3.00},
	"gemini-2.5-pro":               {1.25, 10.00},
	"gemini-2.5-flash":             {0.30, 2.50},
	"gemini-2.5-flash-lite":        {0.10, 0.40},
	"gemini-2.5-flash-preview-tts": {0.50, 10.00},
	"gemini-2.5-pro-preview-tts":   {1.00, 20.00},
	"gemini-2.0-flash":             {0.10, 0.40},
	"gemini-2.0-flash-lite":        {0.075, 0.30},
	"gemini-1.5-pro":               {1.25, 5.00},
	"gemini-1.5-flash":             {0.075, 0.30},
}

// patternsByLength lists table keys longest first so the most specific pattern wins.
var patternsByLength = func() []string {
	keys := make([]string, 0, len(PricingTable))
	for k := range PricingTable {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}()

// GetModelPricing returns the pricing for a model.
// It attempts exact match first, then the longest pattern contained in the name.
func GetModelPricing(model string) (ModelPricing, bool) {
	m := strings.ToLower(strings.TrimSpace(model))
	m = strings.TrimPrefix(m, "models/")

	if pricing, ok := PricingTable[m]; ok {
		return pricing, true
	}
	for _, pattern := range patternsByLength {
		if strings.Contains(m, pattern) {
			return PricingTable[pattern], true
		}
	}
	return ModelPricing{}, false
}

// CalculateCost calculates the cost for given token usage.
func CalculateCost(pricing ModelPricing, inputTokens, outputTokens int64) float64 {
	inputCost := float64(inputTokens) * pricing.InputPerMillion / 1_000_000
	outputCost := float64(outputTokens) * pricing.OutputPerMillion / 1_000_000
	return inputCost + outputCost
}

// EstimateModelCost estimates the cost for a model and token usage. found is
// false for unknown models, whose cost is reported as zero.
func EstimateModelCost(model string, inputTokens, outputTokens int64) (cost float64, found bool) {
	pricing, ok := GetModelPricing(model)
	if !ok {
		return 0, false
	}
	return CalculateCost(pricing, inputTokens, outputTokens), true
}
