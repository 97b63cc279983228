// Package echo provides a testing provider that echoes back the prompt.
// It implements the domain.Provider interface without making external API
// calls, providing deterministic responses for testing and development.
package echo

import (
	"context"
	"errors"
	"strings"

	"github.com/mcpdeck/gateway/internal/domain"
	"github.com/mcpdeck/gateway/internal/observability"
)

const providerName = "echo"

// Provider implements the domain.Provider interface for echo testing.
type Provider struct {
	name string
}

// NewProvider creates a new echo provider.
// No configuration is required as this provider operates entirely in-memory.
func NewProvider() *Provider {
	return &Provider{name: providerName}
}

// Complete returns the prompt echoed back, with word-based token accounting.
func (p *Provider) Complete(ctx context.Context, req domain.ProviderRequest) (*domain.ProviderResult, error) {
	if req.Prompt == "" {
		return nil, errors.New("prompt cannot be empty")
	}

	observability.FromContext(ctx).Debug("echoing request")

	promptTokens := countTokens(req.Prompt)
	completionTokens := promptTokens // Echo returns same size

	return &domain.ProviderResult{
		Text: "echo: " + req.Prompt,
		Tokens: domain.TokenUsage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
	}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return p.name
}

func countTokens(text string) int {
	return len(strings.Fields(text))
}
