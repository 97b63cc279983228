// Package redis provides the cache-aside store and rate-limit counters
// backed by a Redis server.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mcpdeck/gateway/internal/domain"
	"github.com/mcpdeck/gateway/internal/observability"
)

// Store implements domain.CacheStore with JSON-serialized values.
type Store struct {
	client *redis.Client
}

// NewClient creates a Redis client from configuration.
func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// NewStore creates a new Redis-backed cache store.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// Get loads the value under key into dest. Returns domain.ErrCacheMiss when
// the key is absent or expired.
func (s *Store) Get(ctx context.Context, key string, dest any) error {
	raw, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return domain.ErrCacheMiss
	}
	if err != nil {
		return fmt.Errorf("cache get failed: %w", err)
	}

	if unmarshalErr := json.Unmarshal([]byte(raw), dest); unmarshalErr != nil {
		return fmt.Errorf("failed to decode cached value: %w", unmarshalErr)
	}
	return nil
}

// Set stores value under key with a time-to-live.
func (s *Store) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache value: %w", err)
	}

	if setErr := s.client.Set(ctx, key, data, ttl).Err(); setErr != nil {
		return fmt.Errorf("cache set failed: %w", setErr)
	}

	observability.FromContext(ctx).Debug("cache value stored",
		observability.String("key", key),
		observability.Duration("ttl", ttl))
	return nil
}

// Del removes a key. Deleting an absent key is not an error.
func (s *Store) Del(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("cache delete failed: %w", err)
	}
	return nil
}

// FlushAll clears the entire store.
func (s *Store) FlushAll(ctx context.Context) error {
	if err := s.client.FlushAll(ctx).Err(); err != nil {
		return fmt.Errorf("cache flush failed: %w", err)
	}
	return nil
}
