package billing

import "github.com/shopspring/decimal"

// Fixed per-event costs in microdollars for non-inference services.
const (
	CostSearchPerQuery    int64 = 3_000  // $0.003 per search query
	CostBrowserPerSession int64 = 20_000 // ~$0.02 per browser session (flat estimate)
	CostEmailSend         int64 = 2_000  // ~$0.002 per email send
	CostCallPerMinute     int64 = 90_000 // $0.09 per connected call minute
	CostCallFailedAttempt int64 = 15_000 // $0.015 per failed/no-answer attempt
)

// ModelPricing holds the per-token rates for one model. Rates are expressed
// in dollars per million tokens, which is numerically identical to
// microdollars per token.
type ModelPricing struct {
	Input         decimal.Decimal
	Output        decimal.Decimal
	CacheCreation decimal.Decimal
	CacheRead     decimal.Decimal
}

// makePricing derives cache rates from the base input rate: cache writes
// bill at 1.25x input, cache reads at 0.1x input.
func makePricing(input, output float64) ModelPricing {
	in := decimal.NewFromFloat(input)
	return ModelPricing{
		Input:         in,
		Output:        decimal.NewFromFloat(output),
		CacheCreation: in.Mul(decimal.NewFromFloat(1.25)),
		CacheRead:     in.Mul(decimal.NewFromFloat(0.1)),
	}
}

// defaultModelKey is the fallback entry used for unrecognized model
// identifiers. Pricing an unknown model at a mid-tier rate is preferred
// over rejecting the call.
const defaultModelKey = "default"

var modelPricing = map[string]ModelPricing{
	"claude-opus-4":              makePricing(15.0, 75.0),
	"claude-opus-4-20250514":     makePricing(15.0, 75.0),
	"claude-sonnet-4":            makePricing(3.0, 15.0),
	"claude-sonnet-4-20250514":   makePricing(3.0, 15.0),
	"claude-3-5-sonnet-20241022": makePricing(3.0, 15.0),
	"claude-3-5-haiku-20241022":  makePricing(1.0, 5.0),
	"claude-3-opus-20240229":     makePricing(15.0, 75.0),
	"claude-3-sonnet-20240229":   makePricing(3.0, 15.0),
	"claude-3-haiku-20240307":    makePricing(0.25, 1.25),
	defaultModelKey:              makePricing(3.0, 15.0),
}

// PricingFor returns the pricing entry for a model identifier, falling back
// to the default entry for unrecognized models.
func PricingFor(model string) ModelPricing {
	if p, ok := modelPricing[model]; ok {
		return p
	}
	return modelPricing[defaultModelKey]
}

// InferenceCostMicro prices an inference call in microdollars, rounded to
// the nearest whole microdollar.
func InferenceCostMicro(model string, inputTokens, outputTokens, cacheCreationTokens, cacheReadTokens int64) int64 {
	p := PricingFor(model)
	total := p.Input.Mul(decimal.NewFromInt(inputTokens)).
		Add(p.Output.Mul(decimal.NewFromInt(outputTokens))).
		Add(p.CacheCreation.Mul(decimal.NewFromInt(cacheCreationTokens))).
		Add(p.CacheRead.Mul(decimal.NewFromInt(cacheReadTokens)))
	return total.Round(0).IntPart()
}
