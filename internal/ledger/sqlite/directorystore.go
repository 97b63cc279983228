package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/mcpdeck/gateway/internal/directory"
)

// DirectoryStore implements directory.Store using SQLite.
type DirectoryStore struct {
	db *DB
}

// NewDirectoryStore creates a new SQLite directory store.
func NewDirectoryStore(db *DB) *DirectoryStore {
	return &DirectoryStore{db: db}
}

var sortColumns = map[string]string{
	"quality_score": "quality_score",
	"stars":         "stars",
	"last_updated":  "last_updated",
}

// List returns active servers matching the query, plus the total count.
func (s *DirectoryStore) List(ctx context.Context, q directory.Query) ([]directory.Server, int, error) {
	where := "WHERE status = 'ACTIVE'"
	args := []any{}

	if q.Category != "" && q.Category != "all" {
		where += " AND category = ?"
		args = append(args, q.Category)
	}
	if q.Search != "" {
		where += " AND (name LIKE ? COLLATE NOCASE OR description LIKE ? COLLATE NOCASE)"
		pattern := "%" + q.Search + "%"
		args = append(args, pattern, pattern)
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM mcp_servers "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	sortCol, ok := sortColumns[q.Sort]
	if !ok {
		sortCol = "quality_score"
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, name, description, category, quality_score, stars, github_url, author, last_updated
		FROM mcp_servers %s
		ORDER BY %s DESC
		LIMIT ? OFFSET ?
	`, where, sortCol), append(args, q.Limit, q.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var servers []directory.Server
	for rows.Next() {
		var srv directory.Server
		if err := rows.Scan(&srv.ID, &srv.Name, &srv.Description, &srv.Category,
			&srv.QualityScore, &srv.Stars, &srv.GithubURL, &srv.Author, &srv.LastUpdated); err != nil {
			return nil, 0, err
		}
		servers = append(servers, srv)
	}
	return servers, total, rows.Err()
}

// Upsert inserts or refreshes one catalog entry. Used by ingest tooling.
func (s *DirectoryStore) Upsert(ctx context.Context, srv directory.Server) error {
	if srv.LastUpdated.IsZero() {
		srv.LastUpdated = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mcp_servers (id, name, description, category, quality_score, stars, github_url, author, status, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'ACTIVE', ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			category = excluded.category,
			quality_score = excluded.quality_score,
			stars = excluded.stars,
			github_url = excluded.github_url,
			author = excluded.author,
			last_updated = excluded.last_updated
	`, srv.ID, srv.Name, srv.Description, srv.Category, srv.QualityScore,
		srv.Stars, srv.GithubURL, srv.Author, srv.LastUpdated.UTC())
	return err
}
