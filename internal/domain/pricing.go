package domain

// PricingConfig contains the credit rates applied to token usage.
type PricingConfig struct {
	InputRatePer1K  float64 // credits per 1K input tokens
	OutputRatePer1K float64 // credits per 1K output tokens
}

// RatesPerMillion builds a PricingConfig from per-million token rates.
func RatesPerMillion(inputPerMillion, outputPerMillion float64) PricingConfig {
	return PricingConfig{
		InputRatePer1K:  inputPerMillion / tokensPerMillionToPerK,
		OutputRatePer1K: outputPerMillion / tokensPerMillionToPerK,
	}
}
