package openai

// Config contains OpenAI provider configuration. The provider is registered
// only when APIKey is set.
type Config struct {
	APIKey     string `env:"OPENAI_API_KEY"`
	BaseURL    string `env:"OPENAI_BASE_URL"    envDefault:"https://api.openai.com/v1"`
	Timeout    int    `env:"OPENAI_TIMEOUT"     envDefault:"60"` // seconds
	MaxRetries int    `env:"OPENAI_MAX_RETRIES" envDefault:"3"`

	// Models is the allowlist of chat models billed through this provider.
	Models []string `env:"OPENAI_MODELS" envSeparator:"," envDefault:"gpt-4o-mini,gpt-4o,gpt-4.1-mini"`

	// MaxOutputTokens caps completions that do not set their own limit, which
	// bounds the charge of a single call. Zero disables the cap.
	MaxOutputTokens int `env:"OPENAI_MAX_OUTPUT_TOKENS" envDefault:"2048"`
}

// DefaultModels is used when Config.Models is empty.
func DefaultModels() []string {
	return []string{"gpt-4o-mini", "gpt-4o", "gpt-4.1-mini"}
}
