package domain

import "time"

// Tier is an ordered account class gating model access.
type Tier int

const (
	TierFree Tier = iota
	TierStarter
	TierPremium
	TierEnterprise
)

var tierNames = map[Tier]string{
	TierFree:       "FREE",
	TierStarter:    "STARTER",
	TierPremium:    "PREMIUM",
	TierEnterprise: "ENTERPRISE",
}

func (t Tier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}

// Meets reports whether the tier satisfies a minimum requirement.
func (t Tier) Meets(required Tier) bool {
	return t >= required
}

// ParseTier converts a stored tier name back to a Tier.
func ParseTier(name string) (Tier, bool) {
	for tier, n := range tierNames {
		if n == name {
			return tier, true
		}
	}
	return TierFree, false
}

// Role controls access to administrative operations.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// Account identifies a caller of the completion pipeline.
// Balance is mutated only through ledger transaction application.
type Account struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	APIKey           string    `json:"-"`
	Tier             Tier      `json:"tier"`
	Role             Role      `json:"role"`
	Balance          float64   `json:"balance"`
	LifetimeUsed     float64   `json:"lifetime_used"`
	CreditResetDate  time.Time `json:"credit_reset_date"`
	StripeCustomerID string    `json:"-"`
	CreatedAt        time.Time `json:"created_at"`
}

// EntryKind classifies a ledger entry.
type EntryKind string

const (
	EntrySignupBonus EntryKind = "SIGNUP_BONUS"
	EntryUsage       EntryKind = "USAGE"
	EntryPurchase    EntryKind = "PURCHASE"
	EntryRenewal     EntryKind = "SUBSCRIPTION_RENEWAL"
	EntryAdminGrant  EntryKind = "ADMIN_GRANT"
)

// LedgerEntry is an immutable, append-only record of one balance change.
// The account balance must always equal the sum of its entry amounts.
type LedgerEntry struct {
	ID           string            `json:"id"`
	AccountID    string            `json:"account_id"`
	Kind         EntryKind         `json:"kind"`
	Amount       float64           `json:"amount"`
	BalanceAfter float64           `json:"balance_after"`
	Description  string            `json:"description"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// LedgerTx describes one atomic balance change to apply.
type LedgerTx struct {
	AccountID   string
	Kind        EntryKind
	Amount      float64 // signed; USAGE entries are non-positive
	Description string
	Metadata    map[string]string
}

// TokenUsage tracks token consumption as reported by the upstream provider.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// UsageRecord captures one invocation of the completion pipeline.
// Written on every path: cache hit, success, and failure.
type UsageRecord struct {
	ID             string     `json:"id"`
	AccountID      string     `json:"account_id"`
	Model          string     `json:"model"`
	RequestKind    string     `json:"request_kind"`
	Prompt         string     `json:"prompt"` // truncated for storage
	CacheKey       string     `json:"cache_key"`
	Cached         bool       `json:"cached"`
	Tokens         TokenUsage `json:"tokens"`
	CreditsCharged float64    `json:"credits_charged"`
	LatencyMs      int64      `json:"latency_ms"`
	ErrorKind      string     `json:"error_kind,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// CachedCompletion is the value stored under a cache key.
// Never updated in place; it expires per TTL.
type CachedCompletion struct {
	ResponseText string     `json:"response_text"`
	Model        string     `json:"model"`
	Tokens       TokenUsage `json:"tokens"`
	StoredAt     time.Time  `json:"stored_at"`
}

// CompletionResult is returned to the caller of Complete.
type CompletionResult struct {
	RequestID        string     `json:"request_id"`
	Response         string     `json:"response"`
	Model            string     `json:"model"`
	Cached           bool       `json:"cached"`
	Tokens           TokenUsage `json:"tokens"`
	CreditsCharged   float64    `json:"credits_charged"`
	CreditsRemaining float64    `json:"credits_remaining"`
}

// BalanceSnapshot is the cached view served by CreditService.Balance.
type BalanceSnapshot struct {
	Balance      float64   `json:"balance"`
	Tier         string    `json:"tier"`
	LifetimeUsed float64   `json:"lifetime_used"`
	MonthlyUsed  float64   `json:"monthly_used"`
	NextReset    time.Time `json:"next_reset"`
}

// CreditPackage is a fixed credit/price bundle purchasable via the payment
// provider.
type CreditPackage struct {
	Key         string  `json:"key"`
	Credits     float64 `json:"credits"`
	PriceCents  int64   `json:"price_cents"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
}

// CreditPackages returns the purchasable bundles, keyed by package key.
func CreditPackages() map[string]CreditPackage {
	return map[string]CreditPackage{
		"starter": {
			Key:         "starter",
			Credits:     50,
			PriceCents:  500,
			Name:        "Starter Pack",
			Description: "50 credits for casual use",
		},
		"popular": {
			Key:         "popular",
			Credits:     200,
			PriceCents:  1500,
			Name:        "Popular Pack",
			Description: "200 credits - best value",
		},
		"pro": {
			Key:         "pro",
			Credits:     500,
			PriceCents:  3000,
			Name:        "Pro Pack",
			Description: "500 credits for power users",
		},
	}
}

// SubscriptionPlan defines a monthly credit allotment and its rollover cap.
// RolloverCap < 0 means uncapped; 0 means no rollover.
type SubscriptionPlan struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	MonthlyCredits float64 `json:"monthly_credits"`
	PriceCents     int64   `json:"price_cents"`
	RolloverCap    float64 `json:"rollover_cap"`
	Tier           Tier    `json:"tier"`
}

// SubscriptionPlans returns the available plans, keyed by plan ID.
func SubscriptionPlans() map[string]SubscriptionPlan {
	return map[string]SubscriptionPlan{
		"starter": {
			ID:             "starter",
			Name:           "Starter",
			MonthlyCredits: 100,
			PriceCents:     900,
			RolloverCap:    0,
			Tier:           TierStarter,
		},
		"premium": {
			ID:             "premium",
			Name:           "Premium",
			MonthlyCredits: 500,
			PriceCents:     2900,
			RolloverCap:    1000,
			Tier:           TierPremium,
		},
		"enterprise": {
			ID:             "enterprise",
			Name:           "Enterprise",
			MonthlyCredits: 2000,
			PriceCents:     9900,
			RolloverCap:    -1,
			Tier:           TierEnterprise,
		},
	}
}

// PaymentIntent is the handle returned to the caller after initiating a
// purchase. The credit grant itself happens on payment confirmation.
type PaymentIntent struct {
	ClientSecret string  `json:"client_secret"`
	AmountCents  int64   `json:"amount_cents"`
	Credits      float64 `json:"credits"`
}

// HistoryPage is a newest-first page of ledger entries.
type HistoryPage struct {
	Entries []LedgerEntry `json:"entries"`
	Total   int           `json:"total"`
	HasMore bool          `json:"has_more"`
}

// DailyUsage aggregates credits charged per calendar day.
type DailyUsage struct {
	Day      string  `json:"day"` // YYYY-MM-DD
	Credits  float64 `json:"credits"`
	Requests int     `json:"requests"`
}

// GroupedUsage aggregates credits charged per grouping key (model or kind).
type GroupedUsage struct {
	Key      string  `json:"key"`
	Credits  float64 `json:"credits"`
	Requests int     `json:"requests"`
}

// UsageAnalytics is the trailing-window usage breakdown.
type UsageAnalytics struct {
	Daily       []DailyUsage   `json:"daily"`
	ByModel     []GroupedUsage `json:"by_model"`
	ByKind      []GroupedUsage `json:"by_kind"`
	PeriodStart time.Time      `json:"period_start"`
	PeriodEnd   time.Time      `json:"period_end"`
}
