package domain

import (
	"math"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const (
	tokensToPerK           = 1000.0
	tokensPerMillionToPerK = 1000.0
	centsPerCredit         = 100.0
	charsPerToken          = 4
)

// TokenCostModel converts token usage into credits.
type TokenCostModel struct {
	pricing PricingConfig
}

// NewTokenCostModel creates a cost model for the given rates.
func NewTokenCostModel(pricing PricingConfig) (*TokenCostModel, error) {
	if pricing.InputRatePer1K < 0 || pricing.OutputRatePer1K < 0 {
		return nil, invalidArgument("rates cannot be negative (input=%v, output=%v)",
			pricing.InputRatePer1K, pricing.OutputRatePer1K)
	}

	return &TokenCostModel{
		pricing: pricing,
	}, nil
}

// Pricing returns the configured rates.
func (m *TokenCostModel) Pricing() PricingConfig {
	return m.pricing
}

// Cost returns the credit cost of the given token counts, rounded up to the
// next hundredth.
func (m *TokenCostModel) Cost(inputTokens, outputTokens int) (decimal.Decimal, error) {
	if inputTokens < 0 || outputTokens < 0 {
		return decimal.Zero, invalidArgument("token counts cannot be negative (input=%d, output=%d)",
			inputTokens, outputTokens)
	}

	// Explicit conversions stop the compiler fusing the products into the sum.
	inputCost := float64(float64(inputTokens) / tokensToPerK * m.pricing.InputRatePer1K)
	outputCost := float64(float64(outputTokens) / tokensToPerK * m.pricing.OutputRatePer1K)
	raw := inputCost + outputCost

	cents := math.Ceil(raw * centsPerCredit)

	return decimal.NewFromFloat(cents).Shift(-2), nil
}

// ExactCost returns the billable cost of a measured AI call.
func (m *TokenCostModel) ExactCost(usage TokenUsage) (decimal.Decimal, error) {
	return m.Cost(usage.InputTokens, usage.OutputTokens)
}

// EstimateTokensFromText approximates a token count as one token per four
// characters. Only for previews; never billing.
func EstimateTokensFromText(text string) int {
	chars := utf8.RuneCountInString(text)
	return (chars + charsPerToken - 1) / charsPerToken
}
