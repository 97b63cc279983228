package sqlite

import (
	"context"
	"time"

	"github.com/mcpdeck/gateway/internal/domain"
)

// UsageStore implements domain.UsageStore using SQLite.
type UsageStore struct {
	db *DB
}

// NewUsageStore creates a new SQLite usage store.
func NewUsageStore(db *DB) *UsageStore {
	return &UsageStore{db: db}
}

// Record appends one usage record.
func (s *UsageStore) Record(ctx context.Context, rec domain.UsageRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_records (
			id, account_id, model, request_kind, prompt, cache_key, cached,
			prompt_tokens, completion_tokens, total_tokens, credits_charged,
			latency_ms, error_kind, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.AccountID, rec.Model, rec.RequestKind, rec.Prompt, rec.CacheKey, rec.Cached,
		rec.Tokens.PromptTokens, rec.Tokens.CompletionTokens, rec.Tokens.TotalTokens,
		rec.CreditsCharged, rec.LatencyMs, rec.ErrorKind, rec.CreatedAt.UTC())
	return err
}

// Analytics aggregates usage by day, model, and request kind over a window.
// Timestamps are stored in UTC, so the window bounds are converted before
// comparison.
func (s *UsageStore) Analytics(ctx context.Context, accountID string, since, until time.Time) (domain.UsageAnalytics, error) {
	sinceStr := since.UTC().Format("2006-01-02 15:04:05")
	untilStr := until.UTC().Format("2006-01-02 15:04:05")

	analytics := domain.UsageAnalytics{
		PeriodStart: since,
		PeriodEnd:   until,
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT strftime('%Y-%m-%d', created_at) AS day,
		       COALESCE(SUM(credits_charged), 0),
		       COUNT(*)
		FROM usage_records
		WHERE account_id = ? AND datetime(created_at) >= datetime(?) AND datetime(created_at) < datetime(?)
		GROUP BY day
		ORDER BY day
	`, accountID, sinceStr, untilStr)
	if err != nil {
		return domain.UsageAnalytics{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var d domain.DailyUsage
		if err := rows.Scan(&d.Day, &d.Credits, &d.Requests); err != nil {
			return domain.UsageAnalytics{}, err
		}
		analytics.Daily = append(analytics.Daily, d)
	}
	if err := rows.Err(); err != nil {
		return domain.UsageAnalytics{}, err
	}

	analytics.ByModel, err = s.grouped(ctx, "model", accountID, sinceStr, untilStr)
	if err != nil {
		return domain.UsageAnalytics{}, err
	}

	analytics.ByKind, err = s.grouped(ctx, "request_kind", accountID, sinceStr, untilStr)
	if err != nil {
		return domain.UsageAnalytics{}, err
	}

	return analytics, nil
}

func (s *UsageStore) grouped(ctx context.Context, column, accountID, since, until string) ([]domain.GroupedUsage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+column+`,
		       COALESCE(SUM(credits_charged), 0),
		       COUNT(*)
		FROM usage_records
		WHERE account_id = ? AND datetime(created_at) >= datetime(?) AND datetime(created_at) < datetime(?)
		GROUP BY `+column+`
		ORDER BY SUM(credits_charged) DESC
	`, accountID, since, until)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.GroupedUsage
	for rows.Next() {
		var g domain.GroupedUsage
		if err := rows.Scan(&g.Key, &g.Credits, &g.Requests); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
