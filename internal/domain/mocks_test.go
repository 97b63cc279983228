package domain_test

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mcpdeck/gateway/internal/domain"
)

// fixedClock is a Clock pinned to one instant for deterministic tests.
type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	return c.now
}

// memLedger is an in-memory LedgerStore enforcing the same guarded balance
// update as the SQLite store.
type memLedger struct {
	accounts map[string]domain.Account
	entries  []domain.LedgerEntry
	applyErr error
	entrySeq int
	now      time.Time
}

func newMemLedger() *memLedger {
	return &memLedger{
		accounts: make(map[string]domain.Account),
		entries:  nil,
		applyErr: nil,
		entrySeq: 0,
		now:      testNow,
	}
}

func (m *memLedger) CreateAccount(_ context.Context, account domain.Account, signupBonus float64) (domain.Account, error) {
	account.Balance = signupBonus
	m.accounts[account.ID] = account
	m.entrySeq++
	m.entries = append(m.entries, domain.LedgerEntry{
		ID:           fmt.Sprintf("entry-%d", m.entrySeq),
		AccountID:    account.ID,
		Kind:         domain.EntrySignupBonus,
		Amount:       signupBonus,
		BalanceAfter: signupBonus,
		Description:  "Welcome bonus",
		CreatedAt:    account.CreatedAt,
	})
	return account, nil
}

func (m *memLedger) GetAccount(_ context.Context, accountID string) (domain.Account, error) {
	account, ok := m.accounts[accountID]
	if !ok {
		return domain.Account{}, domain.Ef(domain.KindNotFound, "account not found: %s", accountID)
	}
	return account, nil
}

func (m *memLedger) GetAccountByAPIKey(_ context.Context, apiKey string) (domain.Account, error) {
	for _, account := range m.accounts {
		if account.APIKey == apiKey {
			return account, nil
		}
	}
	return domain.Account{}, domain.E(domain.KindAuthenticationRequired, "unknown API key")
}

func (m *memLedger) SetStripeCustomerID(_ context.Context, accountID, customerID string) error {
	account, ok := m.accounts[accountID]
	if !ok {
		return domain.Ef(domain.KindNotFound, "account not found: %s", accountID)
	}
	account.StripeCustomerID = customerID
	m.accounts[accountID] = account
	return nil
}

func (m *memLedger) SetCreditResetDate(_ context.Context, accountID string, resetAt time.Time) error {
	account, ok := m.accounts[accountID]
	if !ok {
		return domain.Ef(domain.KindNotFound, "account not found: %s", accountID)
	}
	account.CreditResetDate = resetAt
	m.accounts[accountID] = account
	return nil
}

func (m *memLedger) Apply(_ context.Context, tx domain.LedgerTx) (domain.Account, domain.LedgerEntry, error) {
	if m.applyErr != nil {
		return domain.Account{}, domain.LedgerEntry{}, m.applyErr
	}

	account, ok := m.accounts[tx.AccountID]
	if !ok {
		return domain.Account{}, domain.LedgerEntry{}, domain.Ef(domain.KindNotFound, "account not found: %s", tx.AccountID)
	}
	if account.Balance+tx.Amount < 0 {
		return domain.Account{}, domain.LedgerEntry{}, domain.E(domain.KindInsufficientCredits, "insufficient credits")
	}

	account.Balance += tx.Amount
	if tx.Kind == domain.EntryUsage {
		account.LifetimeUsed += -tx.Amount
	}
	m.accounts[tx.AccountID] = account

	m.entrySeq++
	entry := domain.LedgerEntry{
		ID:           fmt.Sprintf("entry-%d", m.entrySeq),
		AccountID:    tx.AccountID,
		Kind:         tx.Kind,
		Amount:       tx.Amount,
		BalanceAfter: account.Balance,
		Description:  tx.Description,
		Metadata:     tx.Metadata,
		CreatedAt:    m.now,
	}
	m.entries = append(m.entries, entry)

	return account, entry, nil
}

func (m *memLedger) History(_ context.Context, accountID string, limit, offset int) (domain.HistoryPage, error) {
	var all []domain.LedgerEntry
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].AccountID == accountID {
			all = append(all, m.entries[i])
		}
	}

	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	return domain.HistoryPage{
		Entries: all[offset:end],
		Total:   total,
		HasMore: end < total,
	}, nil
}

func (m *memLedger) SumEntries(_ context.Context, accountID string, kind domain.EntryKind, since time.Time) (float64, error) {
	var sum float64
	for _, entry := range m.entries {
		if entry.AccountID != accountID {
			continue
		}
		if kind != "" && entry.Kind != kind {
			continue
		}
		if !since.IsZero() && entry.CreatedAt.Before(since) {
			continue
		}
		sum += entry.Amount
	}
	return sum, nil
}

// entrySum returns the signed total of all entries for one account. The
// ledger invariant says it must always equal the account balance.
func (m *memLedger) entrySum(accountID string) float64 {
	var sum float64
	for _, entry := range m.entries {
		if entry.AccountID == accountID {
			sum += entry.Amount
		}
	}
	return sum
}

// memCache is an in-memory CacheStore with injectable failures.
type memCache struct {
	data   map[string][]byte
	getErr error
	setErr error
}

func newMemCache() *memCache {
	return &memCache{
		data:   make(map[string][]byte),
		getErr: nil,
		setErr: nil,
	}
}

func (m *memCache) Get(_ context.Context, key string, dest any) error {
	if m.getErr != nil {
		return m.getErr
	}
	raw, ok := m.data[key]
	if !ok {
		return domain.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memCache) Set(_ context.Context, key string, value any, _ time.Duration) error {
	if m.setErr != nil {
		return m.setErr
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.data[key] = raw
	return nil
}

func (m *memCache) Del(_ context.Context, key string) error {
	delete(m.data, key)
	return nil
}

func (m *memCache) FlushAll(_ context.Context) error {
	m.data = make(map[string][]byte)
	return nil
}

// memUsage records usage in memory.
type memUsage struct {
	records []domain.UsageRecord
}

func (m *memUsage) Record(_ context.Context, rec domain.UsageRecord) error {
	m.records = append(m.records, rec)
	return nil
}

func (m *memUsage) Analytics(_ context.Context, _ string, since, until time.Time) (domain.UsageAnalytics, error) {
	return domain.UsageAnalytics{
		PeriodStart: since,
		PeriodEnd:   until,
	}, nil
}

// mockPayments is a PaymentProvider capturing calls.
type mockPayments struct {
	customerID      string
	clientSecret    string
	customerErr     error
	intentErr       error
	createdCustomer bool
	lastAmount      int64
	lastMetadata    map[string]string
}

func (m *mockPayments) CreateCustomer(_ context.Context, _, _ string) (string, error) {
	if m.customerErr != nil {
		return "", m.customerErr
	}
	m.createdCustomer = true
	return m.customerID, nil
}

func (m *mockPayments) CreatePaymentIntent(_ context.Context, amountCents int64, _, _ string, metadata map[string]string) (string, error) {
	if m.intentErr != nil {
		return "", m.intentErr
	}
	m.lastAmount = amountCents
	m.lastMetadata = metadata
	return m.clientSecret, nil
}

// mockLimiter is a RateLimiter with a fixed verdict.
type mockLimiter struct {
	allowed bool
	err     error
	calls   int
}

func (m *mockLimiter) Allow(_ context.Context, _ string) (bool, error) {
	m.calls++
	if m.err != nil {
		return false, m.err
	}
	return m.allowed, nil
}

// mockEvents captures published events.
type mockEvents struct {
	events []publishedEvent
}

type publishedEvent struct {
	eventType string
	data      map[string]interface{}
}

func (m *mockEvents) Publish(_ context.Context, eventType string, data map[string]interface{}) {
	m.events = append(m.events, publishedEvent{eventType: eventType, data: data})
}

// mockProvider is a Provider with a pluggable complete function.
type mockProvider struct {
	name         string
	completeFunc func(ctx context.Context, req domain.ProviderRequest) (*domain.ProviderResult, error)
	calls        int
}

func (m *mockProvider) Complete(ctx context.Context, req domain.ProviderRequest) (*domain.ProviderResult, error) {
	m.calls++
	if m.completeFunc != nil {
		return m.completeFunc(ctx, req)
	}
	return &domain.ProviderResult{
		Text: "test response",
		Tokens: domain.TokenUsage{
			PromptTokens:     10,
			CompletionTokens: 20,
			TotalTokens:      30,
		},
	}, nil
}

func (m *mockProvider) Name() string {
	return m.name
}

// mockRegistry is a ProviderRegistry backed by a map.
type mockRegistry struct {
	providers map[string]domain.Provider
}

func newMockRegistry() *mockRegistry {
	return &mockRegistry{providers: make(map[string]domain.Provider)}
}

func (m *mockRegistry) Register(_ context.Context, provider domain.Provider) error {
	m.providers[provider.Name()] = provider
	return nil
}

func (m *mockRegistry) Get(_ context.Context, providerName string) (domain.Provider, error) {
	provider, exists := m.providers[providerName]
	if !exists {
		return nil, fmt.Errorf("provider %s not found", providerName)
	}
	return provider, nil
}

func (m *mockRegistry) List(_ context.Context) ([]string, error) {
	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, name)
	}
	return names, nil
}
