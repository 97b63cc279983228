// Package anthropic provides an adapter for the Anthropic Messages API.
// There is no official Go SDK, so it carries its own HTTP client.
package anthropic

import (
	"context"
	"errors"
	"fmt"

	"github.com/mcpdeck/gateway/internal/domain"
	"github.com/mcpdeck/gateway/internal/observability"
)

const defaultMaxTokens = 1024

// Provider implements the domain.Provider interface for Anthropic.
type Provider struct {
	client *Client
	name   string
}

// NewProvider creates a new Anthropic provider.
func NewProvider(config Config) (*Provider, error) {
	if config.APIKey == "" {
		return nil, errors.New("Anthropic API key is required")
	}

	return &Provider{
		client: NewClient(config),
		name:   "anthropic",
	}, nil
}

// Complete sends a message request and returns the full response with the
// API's token accounting.
func (p *Provider) Complete(ctx context.Context, req domain.ProviderRequest) (*domain.ProviderResult, error) {
	logger := observability.FromContext(ctx)
	logger.Debug("calling Anthropic API")

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		// The Messages API requires max_tokens.
		maxTokens = defaultMaxTokens
	}

	resp, err := p.client.CreateMessage(ctx, messagesRequest{
		Model:       req.Model,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		Messages: []anthropicMessage{
			{Role: "user", Content: req.Prompt},
		},
	})
	if err != nil {
		logger.Error("Anthropic API call failed", observability.Error(err))
		return nil, fmt.Errorf("Anthropic API call failed: %w", err)
	}

	logger.Debug("Anthropic API call succeeded",
		observability.Int("input_tokens", resp.Usage.InputTokens),
		observability.Int("output_tokens", resp.Usage.OutputTokens),
	)

	return &domain.ProviderResult{
		Text: resp.Text(),
		Tokens: domain.TokenUsage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return p.name
}
