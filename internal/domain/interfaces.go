package domain

import (
	"context"
	"time"
)

// Provider represents any upstream completion provider.
type Provider interface {
	// Complete sends a completion request and returns the full response,
	// including the provider's own token accounting.
	Complete(ctx context.Context, req ProviderRequest) (*ProviderResult, error)

	// Name returns the provider identifier.
	Name() string
}

// ProviderRequest is the normalized request shape sent upstream.
type ProviderRequest struct {
	Model       string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// ProviderResult is the normalized upstream response.
type ProviderResult struct {
	Text   string
	Tokens TokenUsage
}

// ProviderRegistry manages available providers.
type ProviderRegistry interface {
	// Register adds a provider to the registry.
	Register(ctx context.Context, provider Provider) error

	// Get retrieves a provider by name.
	Get(ctx context.Context, providerName string) (Provider, error)

	// List returns all available provider names.
	List(ctx context.Context) ([]string, error)
}

// LedgerStore is the relational store holding accounts and their append-only
// transaction history. Apply must execute the balance update and the entry
// insert as one atomic transaction scoped to the account, rejecting any
// change that would take the balance negative.
type LedgerStore interface {
	// CreateAccount inserts a new account and its signup bonus entry.
	CreateAccount(ctx context.Context, account Account, signupBonus float64) (Account, error)

	// GetAccount loads an account by ID.
	GetAccount(ctx context.Context, accountID string) (Account, error)

	// GetAccountByAPIKey loads an account by its API key.
	GetAccountByAPIKey(ctx context.Context, apiKey string) (Account, error)

	// SetStripeCustomerID records the payment provider customer handle.
	SetStripeCustomerID(ctx context.Context, accountID, customerID string) error

	// SetCreditResetDate advances the next renewal instant.
	SetCreditResetDate(ctx context.Context, accountID string, resetAt time.Time) error

	// Apply atomically adjusts the balance and appends one ledger entry.
	// Fails with a KindInsufficientCredits error if the guarded update
	// would produce a negative balance; in that case no entry is written.
	Apply(ctx context.Context, tx LedgerTx) (Account, LedgerEntry, error)

	// History returns a newest-first page of entries plus the total count.
	History(ctx context.Context, accountID string, limit, offset int) (HistoryPage, error)

	// SumEntries returns the sum of all entry amounts for an account,
	// optionally restricted to one kind since a given instant.
	SumEntries(ctx context.Context, accountID string, kind EntryKind, since time.Time) (float64, error)
}

// UsageStore persists per-request usage records and serves aggregates.
type UsageStore interface {
	// Record appends one usage record.
	Record(ctx context.Context, rec UsageRecord) error

	// Analytics aggregates usage by day, model, and request kind since the
	// given instant.
	Analytics(ctx context.Context, accountID string, since, until time.Time) (UsageAnalytics, error)
}

// CacheStore is a key/value store with expiry, used for response caching and
// query-result memoization. Implementations serialize values as JSON.
type CacheStore interface {
	// Get loads the value under key into dest. Returns ErrCacheMiss when
	// the key is absent or expired.
	Get(ctx context.Context, key string, dest any) error

	// Set stores value under key with a time-to-live.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error

	// Del removes a key. Deleting an absent key is not an error.
	Del(ctx context.Context, key string) error

	// FlushAll clears the entire store.
	FlushAll(ctx context.Context) error
}

// RateLimiter enforces a fixed window per key. The window resets by key
// expiry, not by sliding computation.
type RateLimiter interface {
	// Allow increments the counter for key and reports whether the request
	// fits in the current window.
	Allow(ctx context.Context, key string) (bool, error)
}

// PaymentProvider abstracts the external payment processor. The actual
// credit grant happens via a provider callback outside this module.
type PaymentProvider interface {
	// CreateCustomer registers a customer and returns its handle.
	CreateCustomer(ctx context.Context, email, accountID string) (string, error)

	// CreatePaymentIntent initiates a payment and returns the client secret.
	CreatePaymentIntent(ctx context.Context, amountCents int64, currency, customerID string, metadata map[string]string) (string, error)
}

// EventPublisher publishes events for observability.
type EventPublisher interface {
	// Publish publishes an event with the given type and data.
	Publish(ctx context.Context, eventType string, data map[string]interface{})
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time {
	return time.Now()
}
