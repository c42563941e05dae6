package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisKeyPrefix = "mediaforge:cache:"

// RedisSlowStore keeps the slow tier in Redis. Expiry is delegated to
// Redis key TTLs, so SweepExpired has nothing to do.
type RedisSlowStore struct {
	client *redis.Client
	logger *zap.Logger
}

var _ SlowStore = (*RedisSlowStore)(nil)

// NewRedisSlowStore creates a Redis-backed slow tier.
func NewRedisSlowStore(client *redis.Client, logger *zap.Logger) *RedisSlowStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisSlowStore{
		client: client,
		logger: logger.With(zap.String("component", "cache_redis")),
	}
}

// Put writes the entry with the given TTL.
func (s *RedisSlowStore) Put(ctx context.Context, entry *Entry, ttl time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}
	if err := s.client.Set(ctx, redisKeyPrefix+entry.ID, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

// Get returns the entry, or ErrCacheMiss if absent.
func (s *RedisSlowStore) Get(ctx context.Context, id string) (*Entry, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache entry: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		s.logger.Warn("Dropping corrupt cache entry", zap.String("id", id), zap.Error(err))
		s.client.Del(ctx, redisKeyPrefix+id)
		return nil, ErrCacheMiss
	}
	return &entry, nil
}

// Remove deletes the entry if present.
func (s *RedisSlowStore) Remove(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("failed to remove cache entry: %w", err)
	}
	return nil
}

// Clear deletes every entry under the cache prefix.
func (s *RedisSlowStore) Clear(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to clear cache: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}

// SweepExpired is a no-op; Redis expires keys natively.
func (s *RedisSlowStore) SweepExpired(ctx context.Context) (int, error) {
	return 0, nil
}

// Close releases the client connection.
func (s *RedisSlowStore) Close() error {
	return s.client.Close()
}
