package domain_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mcpdeck/gateway/internal/domain"
)

type completionFixture struct {
	service   *domain.CompletionService
	ledger    *memLedger
	cache     *memCache
	usage     *memUsage
	limiter   *mockLimiter
	events    *mockEvents
	anthropic *mockProvider
	openai    *mockProvider
	echo      *mockProvider
}

func newCompletionFixture(t *testing.T) *completionFixture {
	t.Helper()
	ctx := context.Background()

	ledger := newMemLedger()
	cache := newMemCache()
	usage := &memUsage{}
	limiter := &mockLimiter{allowed: true}
	events := &mockEvents{}
	clock := &fixedClock{now: testNow}

	registry := newMockRegistry()
	anthropicProvider := &mockProvider{name: "anthropic"}
	openaiProvider := &mockProvider{name: "openai"}
	echoProvider := &mockProvider{name: "echo"}
	require.NoError(t, registry.Register(ctx, anthropicProvider))
	require.NoError(t, registry.Register(ctx, openaiProvider))
	require.NoError(t, registry.Register(ctx, echoProvider))

	models := domain.NewModelRegistry()
	require.NoError(t, domain.LoadDefaultProfiles(ctx, models))

	credits := domain.NewCreditService(ledger, usage, cache, &mockPayments{}, clock)
	service := domain.NewCompletionService(registry, models, credits, ledger, usage, cache, limiter, events, clock)

	return &completionFixture{
		service:   service,
		ledger:    ledger,
		cache:     cache,
		usage:     usage,
		limiter:   limiter,
		events:    events,
		anthropic: anthropicProvider,
		openai:    openaiProvider,
		echo:      echoProvider,
	}
}

func TestCompletionService_Complete(t *testing.T) {
	t.Run("should charge by provider token accounting", func(t *testing.T) {
		f := newCompletionFixture(t)
		seedAccount(f.ledger, "acc-1", 10, domain.TierFree, domain.RoleUser)
		f.anthropic.completeFunc = func(_ context.Context, _ domain.ProviderRequest) (*domain.ProviderResult, error) {
			return &domain.ProviderResult{
				Text:   "the answer",
				Tokens: domain.TokenUsage{PromptTokens: 5000, CompletionTokens: 15000, TotalTokens: 20000},
			}, nil
		}

		result, err := f.service.Complete(context.Background(), domain.CompleteParams{
			AccountID: "acc-1",
			Prompt:    "Hello world",
			Model:     "opus-4",
			UseCache:  true,
		})

		require.NoError(t, err)
		require.Equal(t, "the answer", result.Response)
		require.False(t, result.Cached)
		require.InDelta(t, 2.0, result.CreditsCharged, 1e-9)
		require.InDelta(t, 8.0, result.CreditsRemaining, 1e-9)

		// One USAGE entry for -2 credits, balance still equals entry sum.
		account := f.ledger.accounts["acc-1"]
		require.InDelta(t, 8.0, account.Balance, 1e-9)
		require.InDelta(t, account.Balance, f.ledger.entrySum("acc-1"), 1e-9)
		last := f.ledger.entries[len(f.ledger.entries)-1]
		require.Equal(t, domain.EntryUsage, last.Kind)
		require.InDelta(t, -2.0, last.Amount, 1e-9)

		require.Len(t, f.usage.records, 1)
		require.InDelta(t, 2.0, f.usage.records[0].CreditsCharged, 1e-9)
		require.Empty(t, f.usage.records[0].ErrorKind)
	})

	t.Run("should fall back to the default model", func(t *testing.T) {
		f := newCompletionFixture(t)
		seedAccount(f.ledger, "acc-1", 10, domain.TierFree, domain.RoleUser)

		result, err := f.service.Complete(context.Background(), domain.CompleteParams{
			AccountID: "acc-1",
			Prompt:    "Hello",
		})

		require.NoError(t, err)
		require.Equal(t, "opus-4", result.Model)
		require.Equal(t, 1, f.anthropic.calls)
	})

	t.Run("should dispatch the echo model to the echo provider", func(t *testing.T) {
		f := newCompletionFixture(t)
		seedAccount(f.ledger, "acc-1", 10, domain.TierFree, domain.RoleUser)

		result, err := f.service.Complete(context.Background(), domain.CompleteParams{
			AccountID: "acc-1",
			Prompt:    "Hello",
			Model:     "echo",
		})

		require.NoError(t, err)
		require.Equal(t, 1, f.echo.calls)
		require.Equal(t, 0, f.anthropic.calls)
		require.InDelta(t, 0.003, result.CreditsCharged, 1e-9)
	})

	t.Run("should deny tiers below the model minimum without side effects", func(t *testing.T) {
		f := newCompletionFixture(t)
		seedAccount(f.ledger, "acc-1", 10, domain.TierFree, domain.RoleUser)
		entriesBefore := len(f.ledger.entries)

		_, err := f.service.Complete(context.Background(), domain.CompleteParams{
			AccountID: "acc-1",
			Prompt:    "Hello",
			Model:     "opus-4-1",
		})

		require.Error(t, err)
		require.Equal(t, domain.KindAccessDenied, domain.KindOf(err))
		require.Equal(t, 0, f.anthropic.calls)
		require.InDelta(t, 10.0, f.ledger.accounts["acc-1"].Balance, 1e-9)
		require.Len(t, f.ledger.entries, entriesBefore)

		// Failures still leave a usage record.
		require.Len(t, f.usage.records, 1)
		require.Equal(t, string(domain.KindAccessDenied), f.usage.records[0].ErrorKind)
	})

	t.Run("should reject a zero balance before any estimate", func(t *testing.T) {
		f := newCompletionFixture(t)
		seedAccount(f.ledger, "acc-1", 0, domain.TierFree, domain.RoleUser)

		_, err := f.service.Complete(context.Background(), domain.CompleteParams{
			AccountID: "acc-1",
			Prompt:    "Hello",
			Model:     "opus-4",
		})

		require.Error(t, err)
		require.Equal(t, domain.KindNoCredits, domain.KindOf(err))
		require.Equal(t, 0, f.anthropic.calls)
	})

	t.Run("should reject when the estimate exceeds the balance", func(t *testing.T) {
		f := newCompletionFixture(t)
		seedAccount(f.ledger, "acc-1", 0.1, domain.TierFree, domain.RoleUser)

		_, err := f.service.Complete(context.Background(), domain.CompleteParams{
			AccountID: "acc-1",
			Prompt:    "Hello",
			Model:     "opus-4", // output budget 2048 tokens, estimate ~0.2 credits
		})

		require.Error(t, err)
		require.Equal(t, domain.KindInsufficientCredits, domain.KindOf(err))
		require.Equal(t, 0, f.anthropic.calls)
		require.InDelta(t, 0.1, f.ledger.accounts["acc-1"].Balance, 1e-9)
	})

	t.Run("should serve cache hits for free without an upstream call", func(t *testing.T) {
		f := newCompletionFixture(t)
		seedAccount(f.ledger, "acc-1", 10, domain.TierFree, domain.RoleUser)

		first, err := f.service.Complete(context.Background(), domain.CompleteParams{
			AccountID: "acc-1",
			Prompt:    "What is an MCP server?",
			Model:     "opus-4",
			UseCache:  true,
		})
		require.NoError(t, err)
		require.False(t, first.Cached)
		require.Equal(t, 1, f.anthropic.calls)

		second, err := f.service.Complete(context.Background(), domain.CompleteParams{
			AccountID: "acc-1",
			Prompt:    "What is an MCP server?",
			Model:     "opus-4",
			UseCache:  true,
		})
		require.NoError(t, err)
		require.True(t, second.Cached)
		require.Equal(t, first.Response, second.Response)
		require.InDelta(t, 0.0, second.CreditsCharged, 1e-9)
		require.Equal(t, 1, f.anthropic.calls)

		// Both requests are on the usage log.
		require.Len(t, f.usage.records, 2)
		require.True(t, f.usage.records[1].Cached)
	})

	t.Run("should hit the cache for whitespace variants of the same prompt", func(t *testing.T) {
		f := newCompletionFixture(t)
		seedAccount(f.ledger, "acc-1", 10, domain.TierFree, domain.RoleUser)

		_, err := f.service.Complete(context.Background(), domain.CompleteParams{
			AccountID: "acc-1",
			Prompt:    "What is   an MCP server?",
			Model:     "opus-4",
			UseCache:  true,
		})
		require.NoError(t, err)

		second, err := f.service.Complete(context.Background(), domain.CompleteParams{
			AccountID: "acc-1",
			Prompt:    "  What is an MCP server?  ",
			Model:     "opus-4",
			UseCache:  true,
		})
		require.NoError(t, err)
		require.True(t, second.Cached)
		require.Equal(t, 1, f.anthropic.calls)
	})

	t.Run("should skip the cache when disabled", func(t *testing.T) {
		f := newCompletionFixture(t)
		seedAccount(f.ledger, "acc-1", 10, domain.TierFree, domain.RoleUser)

		_, err := f.service.Complete(context.Background(), domain.CompleteParams{
			AccountID: "acc-1",
			Prompt:    "Hello",
			Model:     "opus-4",
			UseCache:  false,
		})
		require.NoError(t, err)

		_, err = f.service.Complete(context.Background(), domain.CompleteParams{
			AccountID: "acc-1",
			Prompt:    "Hello",
			Model:     "opus-4",
			UseCache:  false,
		})
		require.NoError(t, err)
		require.Equal(t, 2, f.anthropic.calls)
		require.Empty(t, f.cache.data)
	})

	t.Run("should degrade a cache outage to a miss", func(t *testing.T) {
		f := newCompletionFixture(t)
		seedAccount(f.ledger, "acc-1", 10, domain.TierFree, domain.RoleUser)
		f.cache.getErr = errors.New("connection refused")
		f.cache.setErr = errors.New("connection refused")

		result, err := f.service.Complete(context.Background(), domain.CompleteParams{
			AccountID: "acc-1",
			Prompt:    "Hello",
			Model:     "opus-4",
			UseCache:  true,
		})

		require.NoError(t, err)
		require.False(t, result.Cached)
		require.Equal(t, 1, f.anthropic.calls)
	})

	t.Run("should reject over the rate limit before the upstream call", func(t *testing.T) {
		f := newCompletionFixture(t)
		seedAccount(f.ledger, "acc-1", 10, domain.TierFree, domain.RoleUser)
		f.limiter.allowed = false

		_, err := f.service.Complete(context.Background(), domain.CompleteParams{
			AccountID: "acc-1",
			Prompt:    "Hello",
			Model:     "opus-4",
		})

		require.Error(t, err)
		require.Equal(t, domain.KindRateLimited, domain.KindOf(err))
		require.Equal(t, 0, f.anthropic.calls)
	})

	t.Run("should allow requests when the limiter is down", func(t *testing.T) {
		f := newCompletionFixture(t)
		seedAccount(f.ledger, "acc-1", 10, domain.TierFree, domain.RoleUser)
		f.limiter.err = errors.New("connection refused")

		_, err := f.service.Complete(context.Background(), domain.CompleteParams{
			AccountID: "acc-1",
			Prompt:    "Hello",
			Model:     "opus-4",
		})

		require.NoError(t, err)
		require.Equal(t, 1, f.anthropic.calls)
	})

	t.Run("should not charge for upstream failures", func(t *testing.T) {
		f := newCompletionFixture(t)
		seedAccount(f.ledger, "acc-1", 10, domain.TierFree, domain.RoleUser)
		entriesBefore := len(f.ledger.entries)
		f.anthropic.completeFunc = func(_ context.Context, _ domain.ProviderRequest) (*domain.ProviderResult, error) {
			return nil, errors.New("upstream timeout")
		}

		_, err := f.service.Complete(context.Background(), domain.CompleteParams{
			AccountID: "acc-1",
			Prompt:    "Hello",
			Model:     "opus-4",
		})

		require.Error(t, err)
		require.Equal(t, domain.KindUpstreamError, domain.KindOf(err))
		require.InDelta(t, 10.0, f.ledger.accounts["acc-1"].Balance, 1e-9)
		require.Len(t, f.ledger.entries, entriesBefore)
	})

	t.Run("should return the response and publish an anomaly when settlement fails", func(t *testing.T) {
		f := newCompletionFixture(t)
		// Enough to pass the pre-flight estimate for a small output budget,
		// not enough to cover the actual charge.
		seedAccount(f.ledger, "acc-1", 0.05, domain.TierFree, domain.RoleUser)
		f.anthropic.completeFunc = func(_ context.Context, _ domain.ProviderRequest) (*domain.ProviderResult, error) {
			return &domain.ProviderResult{
				Text:   "expensive answer",
				Tokens: domain.TokenUsage{PromptTokens: 10000, CompletionTokens: 10000, TotalTokens: 20000},
			}, nil
		}

		result, err := f.service.Complete(context.Background(), domain.CompleteParams{
			AccountID: "acc-1",
			Prompt:    "Hi",
			Model:     "opus-4",
			MaxTokens: 100,
		})

		require.NoError(t, err)
		require.Equal(t, "expensive answer", result.Response)
		require.InDelta(t, 0.0, result.CreditsCharged, 1e-9)
		require.InDelta(t, 0.05, result.CreditsRemaining, 1e-9)
		require.InDelta(t, 0.05, f.ledger.accounts["acc-1"].Balance, 1e-9)

		require.Len(t, f.events.events, 1)
		require.Equal(t, domain.EventSettlementAnomaly, f.events.events[0].eventType)
		require.Equal(t, "acc-1", f.events.events[0].data["account_id"])

		require.Len(t, f.usage.records, 1)
		require.Equal(t, string(domain.KindInsufficientCredits), f.usage.records[0].ErrorKind)
	})

	t.Run("should settle a zero-token response without a ledger transaction", func(t *testing.T) {
		f := newCompletionFixture(t)
		seedAccount(f.ledger, "acc-1", 10, domain.TierFree, domain.RoleUser)
		entriesBefore := len(f.ledger.entries)
		f.anthropic.completeFunc = func(_ context.Context, _ domain.ProviderRequest) (*domain.ProviderResult, error) {
			return &domain.ProviderResult{Text: "cached upstream answer"}, nil
		}

		result, err := f.service.Complete(context.Background(), domain.CompleteParams{
			AccountID: "acc-1",
			Prompt:    "Hello",
			Model:     "opus-4",
		})

		require.NoError(t, err)
		require.InDelta(t, 0.0, result.CreditsCharged, 1e-9)
		require.InDelta(t, 10.0, result.CreditsRemaining, 1e-9)
		require.Len(t, f.ledger.entries, entriesBefore)
		require.Empty(t, f.events.events)

		require.Len(t, f.usage.records, 1)
		require.Empty(t, f.usage.records[0].ErrorKind)
	})

	t.Run("should reject unknown models", func(t *testing.T) {
		f := newCompletionFixture(t)
		seedAccount(f.ledger, "acc-1", 10, domain.TierFree, domain.RoleUser)

		_, err := f.service.Complete(context.Background(), domain.CompleteParams{
			AccountID: "acc-1",
			Prompt:    "Hello",
			Model:     "gpt-99",
		})

		require.Error(t, err)
		require.Equal(t, domain.KindInvalidRequest, domain.KindOf(err))
	})

	t.Run("should validate prompt and temperature", func(t *testing.T) {
		f := newCompletionFixture(t)
		seedAccount(f.ledger, "acc-1", 10, domain.TierFree, domain.RoleUser)

		_, err := f.service.Complete(context.Background(), domain.CompleteParams{
			AccountID: "acc-1",
			Prompt:    "   ",
			Model:     "opus-4",
		})
		require.Error(t, err)
		require.Equal(t, domain.KindInvalidRequest, domain.KindOf(err))

		_, err = f.service.Complete(context.Background(), domain.CompleteParams{
			AccountID:   "acc-1",
			Prompt:      "Hello",
			Model:       "opus-4",
			Temperature: 1.5,
		})
		require.Error(t, err)
		require.Equal(t, domain.KindInvalidRequest, domain.KindOf(err))
	})

	t.Run("should bound max tokens but accept zero as the profile default", func(t *testing.T) {
		f := newCompletionFixture(t)
		seedAccount(f.ledger, "acc-1", 10, domain.TierFree, domain.RoleUser)

		_, err := f.service.Complete(context.Background(), domain.CompleteParams{
			AccountID: "acc-1",
			Prompt:    "Hello",
			Model:     "opus-4",
			MaxTokens: -1,
		})
		require.Error(t, err)
		require.Equal(t, domain.KindInvalidRequest, domain.KindOf(err))
		require.Contains(t, err.Error(), "between 0 and")

		_, err = f.service.Complete(context.Background(), domain.CompleteParams{
			AccountID: "acc-1",
			Prompt:    "Hello",
			Model:     "opus-4",
			MaxTokens: 5000,
		})
		require.Error(t, err)
		require.Equal(t, domain.KindInvalidRequest, domain.KindOf(err))

		_, err = f.service.Complete(context.Background(), domain.CompleteParams{
			AccountID: "acc-1",
			Prompt:    "Hello",
			Model:     "opus-4",
			MaxTokens: 0,
		})
		require.NoError(t, err)
	})

	t.Run("should require an account", func(t *testing.T) {
		f := newCompletionFixture(t)

		_, err := f.service.Complete(context.Background(), domain.CompleteParams{
			Prompt: "Hello",
			Model:  "opus-4",
		})

		require.Error(t, err)
		require.Equal(t, domain.KindAuthenticationRequired, domain.KindOf(err))
	})
}

func TestCompletionService_AvailableModels(t *testing.T) {
	t.Run("should filter models by tier", func(t *testing.T) {
		f := newCompletionFixture(t)
		seedAccount(f.ledger, "free-1", 10, domain.TierFree, domain.RoleUser)
		seedAccount(f.ledger, "prem-1", 10, domain.TierPremium, domain.RoleUser)

		freeModels, err := f.service.AvailableModels(context.Background(), "free-1")
		require.NoError(t, err)
		require.Len(t, freeModels, 2)
		freeNames := []string{freeModels[0].Name, freeModels[1].Name}
		require.ElementsMatch(t, []string{"opus-4", "echo"}, freeNames)

		premiumModels, err := f.service.AvailableModels(context.Background(), "prem-1")
		require.NoError(t, err)
		require.Len(t, premiumModels, 5)
	})
}

func TestCacheKey(t *testing.T) {
	t.Run("should be deterministic", func(t *testing.T) {
		a := domain.CacheKey("What is Go?", "opus-4", 0.7)
		b := domain.CacheKey("What is Go?", "opus-4", 0.7)
		require.Equal(t, a, b)
	})

	t.Run("should normalize whitespace but preserve case", func(t *testing.T) {
		a := domain.CacheKey("  What   is Go? ", "opus-4", 0)
		b := domain.CacheKey("What is Go?", "opus-4", 0)
		c := domain.CacheKey("what is go?", "opus-4", 0)
		require.Equal(t, a, b)
		require.NotEqual(t, a, c)
	})

	t.Run("should vary by model and temperature", func(t *testing.T) {
		base := domain.CacheKey("What is Go?", "opus-4", 0.5)
		require.NotEqual(t, base, domain.CacheKey("What is Go?", "gpt-4-turbo", 0.5))
		require.NotEqual(t, base, domain.CacheKey("What is Go?", "opus-4", 0.51))
	})
}

func TestNormalizePrompt(t *testing.T) {
	require.Equal(t, "a b c", domain.NormalizePrompt("  a \t b\n\nc "))
	require.Equal(t, "", domain.NormalizePrompt("   "))
}
