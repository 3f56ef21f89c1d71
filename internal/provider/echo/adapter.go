// Package echo is an offline provider that replies with a transcript of the
// prompt. Usage is measured with the same text heuristic the cost previews
// use, so metered calls can be exercised end to end without an API key.
package echo

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/davidbz/creditmeter/internal/domain"
	"github.com/davidbz/creditmeter/internal/observability"
)

const (
	providerName = "echo"

	// DefaultModel is served when no models are given to NewProvider.
	DefaultModel = "echo4"

	charsPerToken = 4
)

// Provider implements domain.Provider without network calls.
type Provider struct {
	models []string
}

// NewProvider creates an echo provider serving models, or DefaultModel.
func NewProvider(models ...string) *Provider {
	if len(models) == 0 {
		models = []string{DefaultModel}
	}
	return &Provider{models: slices.Clone(models)}
}

// Complete replies with the transcript. Input usage is measured over the
// message contents and output usage over the reply, which is cut to
// req.MaxTokens when set.
func (p *Provider) Complete(ctx context.Context, req *domain.CompletionRequest) (*domain.CompletionResponse, error) {
	if req == nil {
		return nil, errors.New("request cannot be nil")
	}
	if !p.IsModelSupported(ctx, req.Model) {
		return nil, fmt.Errorf("model %s is not supported by echo provider", req.Model)
	}

	inputTokens := 0
	for _, msg := range req.Messages {
		inputTokens += domain.EstimateTokensFromText(msg.Content)
	}

	reply := truncate(transcript(req.Messages), req.MaxTokens)
	usage := domain.TokenUsage{
		InputTokens:  inputTokens,
		OutputTokens: domain.EstimateTokensFromText(reply),
	}

	observability.FromContext(ctx).Debug("echo completed",
		observability.Int("input_tokens", usage.InputTokens),
		observability.Int("output_tokens", usage.OutputTokens))

	return &domain.CompletionResponse{
		ID:         "echo-" + uuid.NewString(),
		Model:      req.Model,
		Provider:   providerName,
		Content:    reply,
		Usage:      usage,
		FinishTime: time.Now(),
	}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return providerName
}

// IsModelSupported reports whether model is served by this provider.
func (p *Provider) IsModelSupported(_ context.Context, model string) bool {
	return slices.Contains(p.models, model)
}

// SupportedModels returns the served models.
func (p *Provider) SupportedModels(_ context.Context) []string {
	return slices.Clone(p.models)
}

func transcript(messages []domain.Message) string {
	var b strings.Builder
	for _, msg := range messages {
		fmt.Fprintf(&b, "[%s]: %s\n", msg.Role, msg.Content)
	}
	return b.String()
}

// truncate keeps at most maxTokens worth of characters. Zero means no limit.
func truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return text
	}
	runes := []rune(text)
	if limit := maxTokens * charsPerToken; len(runes) > limit {
		return string(runes[:limit])
	}
	return text
}
