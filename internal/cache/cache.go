// Package cache provides the Redis-backed tiered cache used by the
// balance and price pipeline. Every failure collapses to a cache miss,
// so callers read through to the source instead of failing.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is the cache interface shared across the pipeline.
type Store interface {
	// Get unmarshals the cached value for key into dest and reports
	// whether a usable entry was found.
	Get(ctx context.Context, key string, dest any) bool
	// Set stores value under key for ttl. Errors are logged, not returned.
	Set(ctx context.Context, key string, value any, ttl time.Duration)
	// Delete removes key.
	Delete(ctx context.Context, key string)
}

// RedisStore implements Store on a Redis client with JSON values.
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisStore creates a Store backed by the given Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, logger: slog.Default()}
}

func (s *RedisStore) Get(ctx context.Context, key string, dest any) bool {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.logger.Warn("cache get failed", "key", key, "error", err)
		}
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		s.logger.Warn("cache entry undecodable, treating as miss", "key", key, "error", err)
		return false
	}
	return true
}

func (s *RedisStore) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		s.logger.Warn("cache value not serializable", "key", key, "error", err)
		return
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		s.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

func (s *RedisStore) Delete(ctx context.Context, key string) {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		s.logger.Warn("cache delete failed", "key", key, "error", err)
	}
}
