package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mcpdeck/gateway/internal/domain"
)

// LedgerStore implements domain.LedgerStore using SQLite.
type LedgerStore struct {
	db *DB
}

// NewLedgerStore creates a new SQLite ledger store.
func NewLedgerStore(db *DB) *LedgerStore {
	return &LedgerStore{db: db}
}

// CreateAccount inserts a new account and its signup bonus entry in one
// transaction.
func (s *LedgerStore) CreateAccount(ctx context.Context, account domain.Account, signupBonus float64) (domain.Account, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Account{}, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO accounts (id, email, api_key, tier, role, balance, lifetime_used, credit_reset_date, stripe_customer_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?)
	`, account.ID, account.Email, account.APIKey, account.Tier.String(), string(account.Role),
		signupBonus, account.CreditResetDate.UTC(), account.StripeCustomerID, account.CreatedAt.UTC())
	if err != nil {
		return domain.Account{}, fmt.Errorf("insert account: %w", err)
	}

	if signupBonus > 0 {
		entry := domain.LedgerEntry{
			ID:           uuid.New().String(),
			AccountID:    account.ID,
			Kind:         domain.EntrySignupBonus,
			Amount:       signupBonus,
			BalanceAfter: signupBonus,
			Description:  "Welcome bonus",
			CreatedAt:    account.CreatedAt,
		}
		if err := insertEntry(ctx, tx, entry); err != nil {
			return domain.Account{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.Account{}, err
	}

	account.Balance = signupBonus
	return account, nil
}

// GetAccount loads an account by ID.
func (s *LedgerStore) GetAccount(ctx context.Context, accountID string) (domain.Account, error) {
	return s.getAccount(ctx, s.db.DB, "id = ?", accountID)
}

// GetAccountByAPIKey loads an account by its API key.
func (s *LedgerStore) GetAccountByAPIKey(ctx context.Context, apiKey string) (domain.Account, error) {
	account, err := s.getAccount(ctx, s.db.DB, "api_key = ?", apiKey)
	if domain.IsKind(err, domain.KindNotFound) {
		return domain.Account{}, domain.E(domain.KindAuthenticationRequired, "unknown API key")
	}
	return account, err
}

// SetStripeCustomerID records the payment provider customer handle.
func (s *LedgerStore) SetStripeCustomerID(ctx context.Context, accountID, customerID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE accounts SET stripe_customer_id = ? WHERE id = ?", customerID, accountID)
	return err
}

// SetCreditResetDate advances the next renewal instant.
func (s *LedgerStore) SetCreditResetDate(ctx context.Context, accountID string, resetAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE accounts SET credit_reset_date = ? WHERE id = ?", resetAt.UTC(), accountID)
	return err
}

// Apply atomically adjusts the balance and appends one ledger entry. The
// balance update is guarded: an adjustment that would take the balance
// negative affects no rows and the transaction is abandoned, so neither the
// balance nor the ledger changes.
func (s *LedgerStore) Apply(ctx context.Context, ltx domain.LedgerTx) (domain.Account, domain.LedgerEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Account{}, domain.LedgerEntry{}, err
	}
	defer tx.Rollback()

	lifetimeDelta := 0.0
	if ltx.Kind == domain.EntryUsage {
		lifetimeDelta = -ltx.Amount
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET balance = balance + ?, lifetime_used = lifetime_used + ?
		WHERE id = ? AND balance + ? >= 0
	`, ltx.Amount, lifetimeDelta, ltx.AccountID, ltx.Amount)
	if err != nil {
		return domain.Account{}, domain.LedgerEntry{}, fmt.Errorf("update balance: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Account{}, domain.LedgerEntry{}, err
	}
	if affected == 0 {
		// Either the account is missing or the guard rejected the change.
		var exists int
		if scanErr := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM accounts WHERE id = ?", ltx.AccountID).Scan(&exists); scanErr != nil {
			return domain.Account{}, domain.LedgerEntry{}, scanErr
		}
		if exists == 0 {
			return domain.Account{}, domain.LedgerEntry{}, domain.Ef(domain.KindNotFound, "account not found: %s", ltx.AccountID)
		}
		return domain.Account{}, domain.LedgerEntry{}, domain.E(domain.KindInsufficientCredits, "insufficient credits")
	}

	account, err := s.getAccount(ctx, tx, "id = ?", ltx.AccountID)
	if err != nil {
		return domain.Account{}, domain.LedgerEntry{}, err
	}

	entry := domain.LedgerEntry{
		ID:           uuid.New().String(),
		AccountID:    ltx.AccountID,
		Kind:         ltx.Kind,
		Amount:       ltx.Amount,
		BalanceAfter: account.Balance,
		Description:  ltx.Description,
		Metadata:     ltx.Metadata,
		CreatedAt:    time.Now().UTC(),
	}
	if err := insertEntry(ctx, tx, entry); err != nil {
		return domain.Account{}, domain.LedgerEntry{}, err
	}

	if err := tx.Commit(); err != nil {
		return domain.Account{}, domain.LedgerEntry{}, err
	}

	return account, entry, nil
}

// History returns a newest-first page of entries plus the total count.
func (s *LedgerStore) History(ctx context.Context, accountID string, limit, offset int) (domain.HistoryPage, error) {
	var total int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM ledger_entries WHERE account_id = ?", accountID).Scan(&total)
	if err != nil {
		return domain.HistoryPage{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, kind, amount, balance_after, description, metadata, created_at
		FROM ledger_entries
		WHERE account_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, accountID, limit, offset)
	if err != nil {
		return domain.HistoryPage{}, err
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		var kind, metadata string
		if err := rows.Scan(&e.ID, &e.AccountID, &kind, &e.Amount, &e.BalanceAfter,
			&e.Description, &metadata, &e.CreatedAt); err != nil {
			return domain.HistoryPage{}, err
		}
		e.Kind = domain.EntryKind(kind)
		if metadata != "" {
			if err := json.Unmarshal([]byte(metadata), &e.Metadata); err != nil {
				return domain.HistoryPage{}, fmt.Errorf("decode entry metadata: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return domain.HistoryPage{}, err
	}

	return domain.HistoryPage{
		Entries: entries,
		Total:   total,
		HasMore: offset+len(entries) < total,
	}, nil
}

// SumEntries returns the sum of all entry amounts for an account, optionally
// restricted to one kind since a given instant.
func (s *LedgerStore) SumEntries(ctx context.Context, accountID string, kind domain.EntryKind, since time.Time) (float64, error) {
	query := "SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE account_id = ?"
	args := []any{accountID}

	if kind != "" {
		query += " AND kind = ?"
		args = append(args, string(kind))
	}
	if !since.IsZero() {
		query += " AND datetime(created_at) >= datetime(?)"
		args = append(args, since.UTC().Format("2006-01-02 15:04:05"))
	}

	var sum float64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&sum); err != nil {
		return 0, err
	}
	return sum, nil
}

type queryable interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *LedgerStore) getAccount(ctx context.Context, q queryable, where string, arg any) (domain.Account, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, email, api_key, tier, role, balance, lifetime_used, credit_reset_date, stripe_customer_id, created_at
		FROM accounts WHERE `+where, arg)

	var a domain.Account
	var tier, role string
	var resetDate sql.NullTime
	err := row.Scan(&a.ID, &a.Email, &a.APIKey, &tier, &role, &a.Balance,
		&a.LifetimeUsed, &resetDate, &a.StripeCustomerID, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Account{}, domain.E(domain.KindNotFound, "account not found")
	}
	if err != nil {
		return domain.Account{}, fmt.Errorf("scan account: %w", err)
	}

	if parsed, ok := domain.ParseTier(tier); ok {
		a.Tier = parsed
	}
	a.Role = domain.Role(role)
	if resetDate.Valid {
		a.CreditResetDate = resetDate.Time
	}
	return a, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertEntry(ctx context.Context, e execer, entry domain.LedgerEntry) error {
	metadata := ""
	if len(entry.Metadata) > 0 {
		raw, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("encode entry metadata: %w", err)
		}
		metadata = string(raw)
	}

	_, err := e.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, account_id, kind, amount, balance_after, description, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.AccountID, string(entry.Kind), entry.Amount, entry.BalanceAfter,
		entry.Description, metadata, entry.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}
