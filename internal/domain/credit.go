package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mcpdeck/gateway/internal/observability"
)

const (
	// Fixed starting grant applied at signup.
	signupBonusCredits = 10.0

	// TTL for the cached balance snapshot. The snapshot is advisory; the
	// ledger store remains authoritative.
	balanceSnapshotTTL = 5 * time.Minute

	renewalPeriod = 30 * 24 * time.Hour
)

// CreditService owns all balance mutations and their audit trail.
type CreditService struct {
	ledger   LedgerStore
	usage    UsageStore
	cache    CacheStore
	payments PaymentProvider
	clock    Clock
}

// NewCreditService creates a new credit service (DI constructor).
func NewCreditService(
	ledger LedgerStore,
	usage UsageStore,
	cache CacheStore,
	payments PaymentProvider,
	clock Clock,
) *CreditService {
	return &CreditService{
		ledger:   ledger,
		usage:    usage,
		cache:    cache,
		payments: payments,
		clock:    clock,
	}
}

// Signup creates a new account with the fixed starting grant.
func (s *CreditService) Signup(ctx context.Context, email string, tier Tier) (Account, error) {
	if email == "" {
		return Account{}, E(KindInvalidRequest, "email cannot be empty")
	}

	now := s.clock.Now()
	account := Account{
		ID:              uuid.New().String(),
		Email:           email,
		APIKey:          "mcp_" + uuid.New().String(),
		Tier:            tier,
		Role:            RoleUser,
		Balance:         0,
		CreditResetDate: now.Add(renewalPeriod),
		CreatedAt:       now,
	}

	created, err := s.ledger.CreateAccount(ctx, account, signupBonusCredits)
	if err != nil {
		return Account{}, fmt.Errorf("failed to create account: %w", err)
	}
	return created, nil
}

// Balance returns the current balance, tier, lifetime usage, and next reset
// date. A short-lived cached snapshot is consulted before the ledger store.
func (s *CreditService) Balance(ctx context.Context, accountID string) (BalanceSnapshot, error) {
	cacheKey := balanceCacheKey(accountID)

	var snapshot BalanceSnapshot
	if err := s.cache.Get(ctx, cacheKey, &snapshot); err == nil {
		return snapshot, nil
	}

	account, err := s.ledger.GetAccount(ctx, accountID)
	if err != nil {
		return BalanceSnapshot{}, err
	}

	now := s.clock.Now()
	startOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	monthlyUsed, err := s.ledger.SumEntries(ctx, accountID, EntryUsage, startOfMonth)
	if err != nil {
		return BalanceSnapshot{}, fmt.Errorf("failed to sum monthly usage: %w", err)
	}
	if monthlyUsed < 0 {
		monthlyUsed = -monthlyUsed
	}

	snapshot = BalanceSnapshot{
		Balance:      account.Balance,
		Tier:         account.Tier.String(),
		LifetimeUsed: account.LifetimeUsed,
		MonthlyUsed:  monthlyUsed,
		NextReset:    account.CreditResetDate,
	}

	if setErr := s.cache.Set(ctx, cacheKey, snapshot, balanceSnapshotTTL); setErr != nil {
		observability.FromContext(ctx).Warn("failed to cache balance snapshot",
			observability.Error(setErr))
	}

	return snapshot, nil
}

// Purchase initiates an external payment for a credit package. The credit
// grant itself happens only on confirmed payment, via the payment provider's
// callback.
func (s *CreditService) Purchase(ctx context.Context, accountID, packageKey string) (PaymentIntent, error) {
	pkg, ok := CreditPackages()[packageKey]
	if !ok {
		return PaymentIntent{}, Ef(KindInvalidPackage, "unknown credit package: %s", packageKey)
	}

	account, err := s.ledger.GetAccount(ctx, accountID)
	if err != nil {
		return PaymentIntent{}, err
	}

	customerID := account.StripeCustomerID
	if customerID == "" {
		customerID, err = s.payments.CreateCustomer(ctx, account.Email, account.ID)
		if err != nil {
			return PaymentIntent{}, fmt.Errorf("failed to create payment customer: %w", err)
		}
		if setErr := s.ledger.SetStripeCustomerID(ctx, account.ID, customerID); setErr != nil {
			return PaymentIntent{}, fmt.Errorf("failed to store payment customer: %w", setErr)
		}
	}

	clientSecret, err := s.payments.CreatePaymentIntent(ctx, pkg.PriceCents, "usd", customerID, map[string]string{
		"account_id": account.ID,
		"package":    pkg.Key,
		"credits":    fmt.Sprintf("%g", pkg.Credits),
	})
	if err != nil {
		return PaymentIntent{}, fmt.Errorf("failed to create payment intent: %w", err)
	}

	return PaymentIntent{
		ClientSecret: clientSecret,
		AmountCents:  pkg.PriceCents,
		Credits:      pkg.Credits,
	}, nil
}

// Grant atomically increments the balance and appends one ledger entry.
// Amount must be positive; USAGE entries go through Deduct.
func (s *CreditService) Grant(
	ctx context.Context,
	accountID string,
	amount float64,
	kind EntryKind,
	description string,
	metadata map[string]string,
) (Account, LedgerEntry, error) {
	if amount <= 0 {
		return Account{}, LedgerEntry{}, E(KindInvalidRequest, "grant amount must be positive")
	}
	if kind == EntryUsage {
		return Account{}, LedgerEntry{}, E(KindInvalidRequest, "usage entries must go through Deduct")
	}

	account, entry, err := s.ledger.Apply(ctx, LedgerTx{
		AccountID:   accountID,
		Kind:        kind,
		Amount:      amount,
		Description: description,
		Metadata:    metadata,
	})
	if err != nil {
		return Account{}, LedgerEntry{}, err
	}

	s.invalidateSnapshot(ctx, accountID)
	return account, entry, nil
}

// Deduct atomically decrements the balance and appends one USAGE entry.
// The ledger store re-checks the balance inside the transaction, so a race
// that left the balance short fails here with KindInsufficientCredits.
func (s *CreditService) Deduct(ctx context.Context, accountID string, amount float64, description string) (Account, LedgerEntry, error) {
	if amount <= 0 {
		return Account{}, LedgerEntry{}, E(KindInvalidRequest, "deduct amount must be positive")
	}

	account, entry, err := s.ledger.Apply(ctx, LedgerTx{
		AccountID:   accountID,
		Kind:        EntryUsage,
		Amount:      -amount,
		Description: description,
	})
	if err != nil {
		return Account{}, LedgerEntry{}, err
	}

	s.invalidateSnapshot(ctx, accountID)
	return account, entry, nil
}

// RenewSubscription applies the monthly cycle for a plan: unused balance is
// carried over up to the plan's rollover cap, the monthly allotment is
// granted, and the reset date advances by 30 days. The whole adjustment is
// one SUBSCRIPTION_RENEWAL entry so the ledger sum stays equal to the
// balance.
//
// The carry target is computed from a balance read outside the ledger
// transaction: a deduction landing between the read and Apply shifts the
// post-renewal balance by that deduction. The ledger stays consistent
// either way; renewals run once per account per cycle, so the window is
// accepted rather than serialized.
func (s *CreditService) RenewSubscription(ctx context.Context, accountID, planID string) (Account, error) {
	plan, ok := SubscriptionPlans()[planID]
	if !ok {
		return Account{}, Ef(KindInvalidRequest, "unknown subscription plan: %s", planID)
	}

	account, err := s.ledger.GetAccount(ctx, accountID)
	if err != nil {
		return Account{}, err
	}

	carried := account.Balance
	if plan.RolloverCap >= 0 && carried > plan.RolloverCap {
		carried = plan.RolloverCap
	}
	if carried < 0 {
		carried = 0
	}

	target := carried + plan.MonthlyCredits
	delta := target - account.Balance

	account, _, err = s.ledger.Apply(ctx, LedgerTx{
		AccountID:   accountID,
		Kind:        EntryRenewal,
		Amount:      delta,
		Description: fmt.Sprintf("Monthly credit renewal - %s plan", plan.Name),
		Metadata:    map[string]string{"plan": plan.ID},
	})
	if err != nil {
		return Account{}, fmt.Errorf("failed to apply renewal: %w", err)
	}

	resetAt := s.clock.Now().Add(renewalPeriod)
	if err := s.ledger.SetCreditResetDate(ctx, accountID, resetAt); err != nil {
		return Account{}, fmt.Errorf("failed to advance reset date: %w", err)
	}
	account.CreditResetDate = resetAt

	s.invalidateSnapshot(ctx, accountID)

	observability.FromContext(ctx).Info("subscription renewed",
		observability.String("plan", plan.ID),
		observability.Float64("carried", carried),
		observability.Float64("balance", account.Balance))

	return account, nil
}

// History returns a paginated, newest-first ledger listing.
func (s *CreditService) History(ctx context.Context, accountID string, limit, offset int) (HistoryPage, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.ledger.History(ctx, accountID, limit, offset)
}

// AdminGrant grants bonus credits on behalf of an administrator.
func (s *CreditService) AdminGrant(ctx context.Context, accountID string, amount float64, reason, adminID string) (Account, LedgerEntry, error) {
	admin, err := s.ledger.GetAccount(ctx, adminID)
	if err != nil {
		return Account{}, LedgerEntry{}, WrapErr(KindUnauthorized, err, "admin account not found")
	}
	if admin.Role != RoleAdmin {
		return Account{}, LedgerEntry{}, E(KindUnauthorized, "administrative role required")
	}

	return s.Grant(ctx, accountID, amount, EntryAdminGrant, reason, map[string]string{
		"granted_by": adminID,
	})
}

// Analytics aggregates usage by day, model, and request kind over a trailing
// window.
func (s *CreditService) Analytics(ctx context.Context, accountID string, windowDays int) (UsageAnalytics, error) {
	if windowDays <= 0 {
		windowDays = 30
	}

	until := s.clock.Now()
	since := until.Add(-time.Duration(windowDays) * 24 * time.Hour)

	return s.usage.Analytics(ctx, accountID, since, until)
}

// invalidateSnapshot drops the cached balance view. Failures are non-fatal:
// the snapshot expires on its own and the ledger store stays authoritative.
func (s *CreditService) invalidateSnapshot(ctx context.Context, accountID string) {
	if err := s.cache.Del(ctx, balanceCacheKey(accountID)); err != nil {
		observability.FromContext(ctx).Warn("failed to invalidate balance snapshot",
			observability.String("account_id", accountID),
			observability.Error(err))
	}
}

func balanceCacheKey(accountID string) string {
	return "credits:balance:" + accountID
}
