// Package openai bills chat completions served by the OpenAI API. The usage
// block of every response is reported back as domain.TokenUsage so the ledger
// charges what was actually consumed.
package openai

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/davidbz/creditmeter/internal/domain"
	"github.com/davidbz/creditmeter/internal/observability"
)

const providerName = "openai"

// Provider implements domain.Provider for OpenAI chat models.
type Provider struct {
	client          openai.Client
	models          []string
	maxOutputTokens int
}

// NewProvider creates an OpenAI provider from config.
func NewProvider(config Config) (*Provider, error) {
	if config.APIKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}

	models := config.Models
	if len(models) == 0 {
		models = DefaultModels()
	}

	return &Provider{
		client:          openai.NewClient(clientOptions(config)...),
		models:          slices.Clone(models),
		maxOutputTokens: config.MaxOutputTokens,
	}, nil
}

func clientOptions(config Config) []option.RequestOption {
	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}

	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	if config.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(time.Duration(config.Timeout)*time.Second))
	}
	if config.MaxRetries > 0 {
		opts = append(opts, option.WithMaxRetries(config.MaxRetries))
	}
	return opts
}

// Complete sends one chat completion and returns it with its measured usage.
func (p *Provider) Complete(ctx context.Context, req *domain.CompletionRequest) (*domain.CompletionResponse, error) {
	if req == nil {
		return nil, errors.New("request cannot be nil")
	}
	if !p.IsModelSupported(ctx, req.Model) {
		return nil, fmt.Errorf("model %s is not enabled for the openai provider", req.Model)
	}

	logger := observability.FromContext(ctx)
	logger.Debug("calling OpenAI API")

	resp, err := p.client.Chat.Completions.New(ctx, p.params(ctx, req))
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			logger.Error("OpenAI API call failed",
				observability.Int("status", apiErr.StatusCode),
				observability.Error(err))
		} else {
			logger.Error("OpenAI API call failed", observability.Error(err))
		}
		return nil, fmt.Errorf("OpenAI API call failed: %w", err)
	}

	usage := domain.TokenUsage{
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
	}
	logger.Debug("OpenAI API call succeeded",
		observability.Int("input_tokens", usage.InputTokens),
		observability.Int("output_tokens", usage.OutputTokens))

	content := ""
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	}

	return &domain.CompletionResponse{
		ID:         resp.ID,
		Model:      string(resp.Model),
		Provider:   providerName,
		Content:    content,
		Usage:      usage,
		FinishTime: time.Now(),
	}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return providerName
}

// IsModelSupported reports whether model is on the allowlist.
func (p *Provider) IsModelSupported(_ context.Context, model string) bool {
	return slices.Contains(p.models, model)
}

// SupportedModels returns the allowlist.
func (p *Provider) SupportedModels(_ context.Context) []string {
	return slices.Clone(p.models)
}

func (p *Provider) params(ctx context.Context, req *domain.CompletionRequest) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, len(req.Messages))
	for i, msg := range req.Messages {
		switch msg.Role {
		case "assistant":
			messages[i] = openai.AssistantMessage(msg.Content)
		case "system":
			messages[i] = openai.SystemMessage(msg.Content)
		default:
			messages[i] = openai.UserMessage(msg.Content)
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: messages,
	}

	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxOutputTokens
	}
	if maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(maxTokens))
	}

	// Tag the call with the billed account.
	if userID := observability.GetUserID(ctx); userID != "" {
		params.User = openai.String(userID)
	}

	return params
}
