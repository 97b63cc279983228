package domain

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Ten thousand tokens cost one credit at multiplier 1.0.
const tokensPerCredit = 10000.0

// ModelProfile is static, read-only configuration for one supported model.
type ModelProfile struct {
	Name             string  `json:"name"`
	Provider         string  `json:"provider"`
	UpstreamModel    string  `json:"upstream_model"`
	MaxTokens        int     `json:"max_tokens"`
	CreditMultiplier float64 `json:"credit_multiplier"`
	MinTier          Tier    `json:"min_tier"`
}

// Credits converts a token count into a credit charge at this profile's
// multiplier.
func (p ModelProfile) Credits(totalTokens int) float64 {
	return float64(totalTokens) / tokensPerCredit * p.CreditMultiplier
}

// ModelRegistry stores model profiles in memory, loaded once at startup.
type ModelRegistry struct {
	mu       sync.RWMutex
	profiles map[string]ModelProfile
	fallback string
}

// NewModelRegistry creates an empty model registry.
func NewModelRegistry() *ModelRegistry {
	return &ModelRegistry{
		mu:       sync.RWMutex{},
		profiles: make(map[string]ModelProfile),
		fallback: "",
	}
}

// Register adds a profile. The first FREE-tier profile registered becomes the
// default model for requests that name none.
func (r *ModelRegistry) Register(_ context.Context, profile ModelProfile) error {
	if profile.Name == "" {
		return errors.New("model name cannot be empty")
	}
	if profile.Provider == "" {
		return errors.New("provider cannot be empty")
	}
	if profile.CreditMultiplier <= 0 {
		return errors.New("credit multiplier must be positive")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.profiles[profile.Name] = profile
	if r.fallback == "" && profile.MinTier == TierFree {
		r.fallback = profile.Name
	}
	return nil
}

// Get retrieves a profile by model name.
func (r *ModelRegistry) Get(_ context.Context, model string) (ModelProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	profile, exists := r.profiles[model]
	if !exists {
		return ModelProfile{}, Ef(KindInvalidRequest, "unknown model: %s", model)
	}
	return profile, nil
}

// DefaultModel returns the model used when a request names none.
func (r *ModelRegistry) DefaultModel(_ context.Context) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.fallback == "" {
		return "", errors.New("no default model registered")
	}
	return r.fallback, nil
}

// ListForTier returns the profiles accessible at the given tier.
func (r *ModelRegistry) ListForTier(_ context.Context, tier Tier) []ModelProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []ModelProfile
	for _, p := range r.profiles {
		if tier.Meets(p.MinTier) {
			out = append(out, p)
		}
	}
	return out
}

// DefaultProfiles returns the catalog models shipped with the gateway.
func DefaultProfiles() []ModelProfile {
	return []ModelProfile{
		{
			Name:             "opus-4",
			Provider:         "anthropic",
			UpstreamModel:    "claude-2.1",
			MaxTokens:        2048,
			CreditMultiplier: 1.0,
			MinTier:          TierFree,
		},
		{
			Name:             "claude-3-5",
			Provider:         "anthropic",
			UpstreamModel:    "claude-3-5-sonnet-20241022",
			MaxTokens:        4096,
			CreditMultiplier: 1.5,
			MinTier:          TierStarter,
		},
		{
			Name:             "opus-4-1",
			Provider:         "anthropic",
			UpstreamModel:    "claude-3-opus-20240229",
			MaxTokens:        4096,
			CreditMultiplier: 2.0,
			MinTier:          TierPremium,
		},
		{
			Name:             "gpt-4-turbo",
			Provider:         "openai",
			UpstreamModel:    "gpt-4-turbo-preview",
			MaxTokens:        4096,
			CreditMultiplier: 1.8,
			MinTier:          TierPremium,
		},
		// Deterministic offline model for development and smoke tests.
		// Registered last so opus-4 stays the default.
		{
			Name:             "echo",
			Provider:         "echo",
			UpstreamModel:    "echo",
			MaxTokens:        2048,
			CreditMultiplier: 1.0,
			MinTier:          TierFree,
		},
	}
}

// LoadDefaultProfiles registers the default catalog into a registry.
func LoadDefaultProfiles(ctx context.Context, registry *ModelRegistry) error {
	for _, p := range DefaultProfiles() {
		if err := registry.Register(ctx, p); err != nil {
			return fmt.Errorf("failed to register model %s: %w", p.Name, err)
		}
	}
	return nil
}
