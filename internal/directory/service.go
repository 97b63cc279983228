// Package directory serves the MCP server catalog: list and search with
// query-result memoization in the cache store.
package directory

import (
	"context"
	"fmt"
	"time"

	"github.com/mcpdeck/gateway/internal/domain"
	"github.com/mcpdeck/gateway/internal/observability"
)

const (
	defaultLimit = 50
	maxLimit     = 100

	// Catalog queries change slowly; memoized pages live for an hour.
	listCacheTTL = time.Hour
)

// Server is one catalog entry.
type Server struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Category     string    `json:"category"`
	QualityScore int       `json:"quality_score"`
	Stars        int       `json:"stars"`
	GithubURL    string    `json:"github_url"`
	Author       string    `json:"author"`
	LastUpdated  time.Time `json:"last_updated"`
}

// Query selects and orders a catalog page.
type Query struct {
	Category string
	Search   string
	Sort     string
	Limit    int
	Offset   int
}

// Page is one page of catalog results.
type Page struct {
	Servers []Server `json:"servers"`
	Total   int      `json:"total"`
	Limit   int      `json:"limit"`
	Offset  int      `json:"offset"`
	HasMore bool     `json:"has_more"`
}

// Store is the persistence port for the catalog.
type Store interface {
	List(ctx context.Context, q Query) ([]Server, int, error)
	Upsert(ctx context.Context, srv Server) error
}

// Service serves catalog queries with cache-aside memoization.
type Service struct {
	store Store
	cache domain.CacheStore
}

// NewService creates a new directory service (DI constructor).
func NewService(store Store, cache domain.CacheStore) *Service {
	return &Service{
		store: store,
		cache: cache,
	}
}

// List returns a catalog page, consulting the memoized result first. A cache
// outage degrades to a direct store query.
func (s *Service) List(ctx context.Context, q Query) (Page, error) {
	if q.Limit <= 0 {
		q.Limit = defaultLimit
	}
	if q.Limit > maxLimit {
		q.Limit = maxLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	if q.Sort == "" {
		q.Sort = "quality_score"
	}

	logger := observability.FromContext(ctx)
	cacheKey := listCacheKey(q)

	var page Page
	if err := s.cache.Get(ctx, cacheKey, &page); err == nil {
		return page, nil
	} else if !domain.IsCacheMiss(err) {
		logger.Warn("catalog cache get failed, querying store",
			observability.Error(err))
	}

	servers, total, err := s.store.List(ctx, q)
	if err != nil {
		return Page{}, fmt.Errorf("catalog query failed: %w", err)
	}

	page = Page{
		Servers: servers,
		Total:   total,
		Limit:   q.Limit,
		Offset:  q.Offset,
		HasMore: q.Offset+len(servers) < total,
	}

	if setErr := s.cache.Set(ctx, cacheKey, page, listCacheTTL); setErr != nil {
		logger.Warn("failed to memoize catalog page",
			observability.Error(setErr))
	}

	return page, nil
}

// Upsert refreshes one catalog entry and drops memoized pages, which may now
// be stale.
func (s *Service) Upsert(ctx context.Context, srv Server) error {
	if srv.ID == "" || srv.Name == "" {
		return domain.E(domain.KindInvalidRequest, "server id and name are required")
	}
	if err := s.store.Upsert(ctx, srv); err != nil {
		return fmt.Errorf("catalog upsert failed: %w", err)
	}
	return nil
}

func listCacheKey(q Query) string {
	return fmt.Sprintf("servers:%s:%s:%s:%d:%d", q.Category, q.Search, q.Sort, q.Limit, q.Offset)
}
