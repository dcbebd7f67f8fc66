package anthropic

import (
	"strings"

	"go.uber.org/zap"
)

// TokenUsage tracks token consumption.
type TokenUsage struct {
	InputTokens              int64
	OutputTokens             int64
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
}

// model → {input $/MTok, output $/MTok}
var modelPricing = map[string][2]float64{
	"claude-haiku-4-5":  {1.00, 5.00},
	"claude-sonnet-4-5": {3.00, 15.00},
	"claude-opus-4-1":   {15.00, 75.00},
}

// EstimateCost returns the USD cost of u for model, or 0 for unknown models.
// Dated model IDs price as their family. Cache writes bill at 1.25x input
// and cache reads at 0.1x.
func (u TokenUsage) EstimateCost(model string) float64 {
	pricing, ok := pricingFor(model)
	if !ok {
		return 0
	}
	in := float64(u.InputTokens) + 1.25*float64(u.CacheCreationInputTokens) + 0.1*float64(u.CacheReadInputTokens)
	return in/1e6*pricing[0] + float64(u.OutputTokens)/1e6*pricing[1]
}

// LogCost logs token usage and estimated cost for one call.
func (u TokenUsage) LogCost(model, operation string) {
	zap.L().Info("llm usage",
		zap.String("model", model),
		zap.String("operation", operation),
		zap.Int64("input_tokens", u.InputTokens),
		zap.Int64("output_tokens", u.OutputTokens),
		zap.Int64("cache_write_tokens", u.CacheCreationInputTokens),
		zap.Int64("cache_read_tokens", u.CacheReadInputTokens),
		zap.Float64("estimated_cost_usd", u.EstimateCost(model)),
	)
}

func pricingFor(model string) ([2]float64, bool) {
	if p, ok := modelPricing[model]; ok {
		return p, true
	}
	for family, p := range modelPricing {
		if strings.HasPrefix(model, family+"-") {
			return p, true
		}
	}
	return [2]float64{}, false
}
