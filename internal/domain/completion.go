package domain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mcpdeck/gateway/internal/observability"
)

const (
	maxPromptChars  = 10000
	maxOutputTokens = 4096

	// Rough estimate used only for the pre-flight check: 1 token ~ 4 chars.
	charsPerToken = 4

	minCacheTTL     = time.Minute
	maxCacheTTL     = 24 * time.Hour
	defaultCacheTTL = time.Hour

	// How much of the prompt is kept in the usage record.
	storedPromptChars = 1000

	// Event published when a deduction fails after the upstream call
	// already happened.
	EventSettlementAnomaly = "credit_settlement_anomaly"
)

// CompleteParams is one invocation of the completion pipeline.
type CompleteParams struct {
	AccountID   string
	Prompt      string
	Model       string // empty selects the default model
	RequestKind string // chat, search, recommend...; defaults to chat
	MaxTokens   int    // 0 selects the model's maximum
	Temperature float64
	UseCache    bool
	CacheTTL    time.Duration // 0 selects the default TTL
}

// CompletionService orchestrates a single metered completion call:
// tier check, cache lookup, rate limit, upstream call, credit settlement,
// cache store, and usage logging.
type CompletionService struct {
	registry ProviderRegistry
	models   *ModelRegistry
	credits  *CreditService
	ledger   LedgerStore
	usage    UsageStore
	cache    CacheStore
	limiter  RateLimiter
	events   EventPublisher
	clock    Clock
}

// NewCompletionService creates a new completion service (DI constructor).
func NewCompletionService(
	registry ProviderRegistry,
	models *ModelRegistry,
	credits *CreditService,
	ledger LedgerStore,
	usage UsageStore,
	cache CacheStore,
	limiter RateLimiter,
	events EventPublisher,
	clock Clock,
) *CompletionService {
	return &CompletionService{
		registry: registry,
		models:   models,
		credits:  credits,
		ledger:   ledger,
		usage:    usage,
		cache:    cache,
		limiter:  limiter,
		events:   events,
		clock:    clock,
	}
}

// Complete runs the pipeline for one request. Failures before the upstream
// call leave balance and cache untouched; a usage record is written on every
// path.
func (s *CompletionService) Complete(ctx context.Context, params CompleteParams) (*CompletionResult, error) {
	start := s.clock.Now()
	requestID := uuid.New().String()

	if params.Model == "" {
		fallback, err := s.models.DefaultModel(ctx)
		if err != nil {
			return nil, WrapErr(KindInternal, err, "no default model")
		}
		params.Model = fallback
	}
	if params.RequestKind == "" {
		params.RequestKind = "chat"
	}

	ctx = observability.WithModel(ctx, params.Model)
	logger := observability.FromContext(ctx)

	if err := validateParams(params); err != nil {
		s.logUsage(ctx, params, requestID, "", false, TokenUsage{}, 0, start, err)
		return nil, err
	}

	profile, err := s.models.Get(ctx, params.Model)
	if err != nil {
		s.logUsage(ctx, params, requestID, "", false, TokenUsage{}, 0, start, err)
		return nil, err
	}

	// Access check: tier gate first, then a non-zero balance.
	account, err := s.ledger.GetAccount(ctx, params.AccountID)
	if err != nil {
		s.logUsage(ctx, params, requestID, "", false, TokenUsage{}, 0, start, err)
		return nil, err
	}

	if !account.Tier.Meets(profile.MinTier) {
		err = Ef(KindAccessDenied, "model %s requires %s tier or higher", profile.Name, profile.MinTier)
		s.logUsage(ctx, params, requestID, "", false, TokenUsage{}, 0, start, err)
		return nil, err
	}

	if account.Balance <= 0 {
		err = E(KindNoCredits, "no credits remaining")
		s.logUsage(ctx, params, requestID, "", false, TokenUsage{}, 0, start, err)
		return nil, err
	}

	cacheKey := CacheKey(params.Prompt, params.Model, params.Temperature)

	// Cache lookup. A hit costs nothing and never reaches a provider.
	if params.UseCache {
		var cached CachedCompletion
		getErr := s.cache.Get(ctx, cacheKey, &cached)
		switch {
		case getErr == nil:
			logger.Info("cache hit",
				observability.String("cache_key", cacheKey))
			s.logUsage(ctx, params, requestID, cacheKey, true, cached.Tokens, 0, start, nil)
			return &CompletionResult{
				RequestID:        requestID,
				Response:         cached.ResponseText,
				Model:            params.Model,
				Cached:           true,
				Tokens:           cached.Tokens,
				CreditsCharged:   0,
				CreditsRemaining: account.Balance,
			}, nil
		case IsCacheMiss(getErr):
			logger.Debug("cache miss")
		default:
			// Store outage degrades to a miss.
			logger.Warn("cache get failed, continuing without cache",
				observability.Error(getErr))
		}
	}

	// Pre-flight estimate: avoid spending upstream quota on requests that
	// cannot be paid for. The guarded ledger deduction remains the real
	// correctness check.
	outputBudget := params.MaxTokens
	if outputBudget == 0 || outputBudget > profile.MaxTokens {
		outputBudget = profile.MaxTokens
	}
	estimatedTokens := estimateTokens(params.Prompt) + outputBudget
	estimatedCredits := profile.Credits(estimatedTokens)

	if account.Balance < estimatedCredits {
		err = Ef(KindInsufficientCredits, "insufficient credits: need %.2f, have %.2f", estimatedCredits, account.Balance)
		s.logUsage(ctx, params, requestID, cacheKey, false, TokenUsage{}, 0, start, err)
		return nil, err
	}

	// Fixed-window rate limit. A limiter outage degrades to never limited.
	allowed, limitErr := s.limiter.Allow(ctx, "ratelimit:"+params.AccountID)
	if limitErr != nil {
		logger.Warn("rate limiter unavailable, allowing request",
			observability.Error(limitErr))
	} else if !allowed {
		err = E(KindRateLimited, "rate limit exceeded, please wait before making more requests")
		s.logUsage(ctx, params, requestID, cacheKey, false, TokenUsage{}, 0, start, err)
		return nil, err
	}

	// Upstream call.
	ctx = observability.WithProvider(ctx, profile.Provider)
	provider, err := s.registry.Get(ctx, profile.Provider)
	if err != nil {
		err = WrapErr(KindInternal, err, "provider not registered")
		s.logUsage(ctx, params, requestID, cacheKey, false, TokenUsage{}, 0, start, err)
		return nil, err
	}

	upstream, err := provider.Complete(ctx, ProviderRequest{
		Model:       profile.UpstreamModel,
		Prompt:      params.Prompt,
		MaxTokens:   outputBudget,
		Temperature: params.Temperature,
	})
	if err != nil {
		err = WrapErr(KindUpstreamError, err, "completion failed")
		s.logUsage(ctx, params, requestID, cacheKey, false, TokenUsage{}, 0, start, err)
		return nil, err
	}

	// Settlement: the provider's token accounting, not the estimate,
	// determines the charge. A zero-token response costs nothing and
	// needs no ledger transaction.
	charge := profile.Credits(upstream.Tokens.TotalTokens)

	remaining := account.Balance
	charged := charge
	var deductErr error
	if charge > 0 {
		var updated Account
		updated, _, deductErr = s.credits.Deduct(ctx, params.AccountID, charge,
			fmt.Sprintf("%s - %s", params.RequestKind, params.Model))
		if deductErr == nil {
			remaining = updated.Balance
		}
	}
	if deductErr != nil {
		// The upstream call already happened and cannot be undone: keep
		// the response, record the anomaly, charge nothing.
		charged = 0
		logger.Error("credit settlement failed after upstream call",
			observability.Float64("charge", charge),
			observability.Error(deductErr))
		s.events.Publish(ctx, EventSettlementAnomaly, map[string]interface{}{
			"account_id": params.AccountID,
			"request_id": requestID,
			"charge":     charge,
			"reason":     deductErr.Error(),
		})
		s.logUsage(ctx, params, requestID, cacheKey, false, upstream.Tokens, 0, start,
			E(KindInsufficientCredits, "settlement failed"))
	} else {
		// Cache store happens only after successful settlement.
		if params.UseCache {
			ttl := clampTTL(params.CacheTTL)
			if setErr := s.cache.Set(ctx, cacheKey, CachedCompletion{
				ResponseText: upstream.Text,
				Model:        params.Model,
				Tokens:       upstream.Tokens,
				StoredAt:     s.clock.Now(),
			}, ttl); setErr != nil {
				logger.Warn("failed to store completion in cache",
					observability.Error(setErr))
			}
		}
		s.logUsage(ctx, params, requestID, cacheKey, false, upstream.Tokens, charge, start, nil)
	}

	logger.Info("completion succeeded",
		observability.Int("total_tokens", upstream.Tokens.TotalTokens),
		observability.Float64("credits_charged", charged),
		observability.Bool("cached", false))

	return &CompletionResult{
		RequestID:        requestID,
		Response:         upstream.Text,
		Model:            params.Model,
		Cached:           false,
		Tokens:           upstream.Tokens,
		CreditsCharged:   charged,
		CreditsRemaining: remaining,
	}, nil
}

// AvailableModels returns the profiles accessible at the account's tier.
func (s *CompletionService) AvailableModels(ctx context.Context, accountID string) ([]ModelProfile, error) {
	account, err := s.ledger.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return s.models.ListForTier(ctx, account.Tier), nil
}

func validateParams(params CompleteParams) error {
	if params.AccountID == "" {
		return E(KindAuthenticationRequired, "no account identified")
	}
	if strings.TrimSpace(params.Prompt) == "" {
		return E(KindInvalidRequest, "prompt cannot be empty")
	}
	if len(params.Prompt) > maxPromptChars {
		return Ef(KindInvalidRequest, "prompt exceeds %d characters", maxPromptChars)
	}
	// Zero means "use the model's default budget".
	if params.MaxTokens < 0 || params.MaxTokens > maxOutputTokens {
		return Ef(KindInvalidRequest, "max tokens must be between 0 and %d", maxOutputTokens)
	}
	if params.Temperature < 0 || params.Temperature > 1 {
		return E(KindInvalidRequest, "temperature must be between 0 and 1")
	}
	return nil
}

func (s *CompletionService) logUsage(
	ctx context.Context,
	params CompleteParams,
	requestID, cacheKey string,
	cached bool,
	tokens TokenUsage,
	credits float64,
	start time.Time,
	cause error,
) {
	rec := UsageRecord{
		ID:             requestID,
		AccountID:      params.AccountID,
		Model:          params.Model,
		RequestKind:    params.RequestKind,
		Prompt:         truncate(params.Prompt, storedPromptChars),
		CacheKey:       cacheKey,
		Cached:         cached,
		Tokens:         tokens,
		CreditsCharged: credits,
		LatencyMs:      s.clock.Now().Sub(start).Milliseconds(),
		CreatedAt:      s.clock.Now(),
	}
	if cause != nil {
		rec.ErrorKind = string(KindOf(cause))
	}

	if err := s.usage.Record(ctx, rec); err != nil {
		observability.FromContext(ctx).Warn("failed to record usage",
			observability.Error(err))
	}
}

// CacheKey derives the deterministic key for a completion request: a sha256
// over the normalized prompt, the model identifier, and the temperature in a
// fixed two-decimal format, so identical semantic requests hash identically.
func CacheKey(prompt, model string, temperature float64) string {
	normalized := NormalizePrompt(prompt)
	temp := strconv.FormatFloat(temperature, 'f', 2, 64)

	h := sha256.New()
	h.Write([]byte(normalized))
	h.Write([]byte{0})
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(temp))

	return "llm:" + hex.EncodeToString(h.Sum(nil))
}

// NormalizePrompt trims surrounding whitespace and collapses internal runs to
// single spaces. Case is preserved.
func NormalizePrompt(prompt string) string {
	return strings.Join(strings.Fields(prompt), " ")
}

// IsCacheMiss reports whether err is the cache-miss sentinel.
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}

func estimateTokens(text string) int {
	return (len(text) + charsPerToken - 1) / charsPerToken
}

func clampTTL(ttl time.Duration) time.Duration {
	switch {
	case ttl == 0:
		return defaultCacheTTL
	case ttl < minCacheTTL:
		return minCacheTTL
	case ttl > maxCacheTTL:
		return maxCacheTTL
	default:
		return ttl
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
