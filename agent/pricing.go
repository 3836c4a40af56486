package agent

import "sync"

// ModelPricing defines input and output token costs for a model.
// Prices are in USD per 1M tokens.
type ModelPricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// Static pricing for major providers (as of 2025-01-01). Prices are USD
// per 1M tokens and subject to change; update as providers adjust.
var defaultModelPricing = map[string]ModelPricing{
	// OpenAI
	"gpt-4o":        {InputPer1M: 2.50, OutputPer1M: 10.00},
	"gpt-4o-mini":   {InputPer1M: 0.15, OutputPer1M: 0.60},
	"gpt-4-turbo":   {InputPer1M: 10.00, OutputPer1M: 30.00},
	"gpt-3.5-turbo": {InputPer1M: 0.50, OutputPer1M: 1.50},

	// Anthropic
	"claude-3-5-sonnet-20241022": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3.5-sonnet":          {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-opus-20240229":     {InputPer1M: 15.00, OutputPer1M: 75.00},
	"claude-3-opus":              {InputPer1M: 15.00, OutputPer1M: 75.00},
	"claude-3-sonnet-20240229":   {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-sonnet":            {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-haiku-20240307":    {InputPer1M: 0.25, OutputPer1M: 1.25},
	"claude-3-haiku":             {InputPer1M: 0.25, OutputPer1M: 1.25},

	// Google
	"gemini-1.5-pro":   {InputPer1M: 1.25, OutputPer1M: 5.00},
	"gemini-1.5-flash": {InputPer1M: 0.075, OutputPer1M: 0.30},
	"gemini-1.0-pro":   {InputPer1M: 0.50, OutputPer1M: 1.50},
}

var pricingMu sync.RWMutex

// PricingFor returns the pricing entry for a model and whether one exists.
func PricingFor(model string) (ModelPricing, bool) {
	pricingMu.RLock()
	defer pricingMu.RUnlock()
	p, ok := defaultModelPricing[model]
	return p, ok
}

// SetPricing overrides or adds the pricing entry for a model, for custom
// models or price updates without a rebuild.
func SetPricing(model string, pricing ModelPricing) {
	pricingMu.Lock()
	defer pricingMu.Unlock()
	defaultModelPricing[model] = pricing
}

// EstimateCost computes the USD cost of a call from token usage. Unknown
// models cost zero.
func EstimateCost(model string, inputTokens, outputTokens int) float64 {
	p, ok := PricingFor(model)
	if !ok {
		return 0
	}
	return float64(inputTokens)/1_000_000*p.InputPer1M +
		float64(outputTokens)/1_000_000*p.OutputPer1M
}
