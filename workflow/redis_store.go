package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisInstancePrefix = "mediaforge:workflow:"

// RedisStateStore persists instances as JSON values in Redis. A SET
// of a single key is atomic, satisfying the upsert contract.
type RedisStateStore struct {
	client *redis.Client
	logger *zap.Logger
}

var _ StateStore = (*RedisStateStore)(nil)

// NewRedisStateStore creates a Redis-backed state store.
func NewRedisStateStore(client *redis.Client, logger *zap.Logger) *RedisStateStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStateStore{
		client: client,
		logger: logger.With(zap.String("component", "workflow_redis")),
	}
}

// Save upserts the full instance state. Instances do not expire; they
// are removed explicitly.
func (s *RedisStateStore) Save(ctx context.Context, instance *Instance) error {
	data, err := json.Marshal(instance)
	if err != nil {
		return fmt.Errorf("failed to encode workflow instance: %w", err)
	}
	if err := s.client.Set(ctx, redisInstancePrefix+instance.ID, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save workflow instance: %w", err)
	}
	return nil
}

// Load returns the instance, or ErrInstanceNotFound.
func (s *RedisStateStore) Load(ctx context.Context, id string) (*Instance, error) {
	data, err := s.client.Get(ctx, redisInstancePrefix+id).Bytes()
	if err == redis.Nil {
		return nil, ErrInstanceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow instance: %w", err)
	}

	var instance Instance
	if err := json.Unmarshal(data, &instance); err != nil {
		return nil, fmt.Errorf("failed to decode workflow instance %s: %w", id, err)
	}
	return &instance, nil
}

// List returns ids of all persisted instances.
func (s *RedisStateStore) List(ctx context.Context) ([]string, error) {
	var ids []string
	iter := s.client.Scan(ctx, 0, redisInstancePrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, iter.Val()[len(redisInstancePrefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to list workflow instances: %w", err)
	}
	return ids, nil
}

// Delete removes an instance record.
func (s *RedisStateStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, redisInstancePrefix+id).Err(); err != nil {
		return fmt.Errorf("failed to delete workflow instance: %w", err)
	}
	return nil
}

// Close releases the client connection.
func (s *RedisStateStore) Close() error {
	return s.client.Close()
}
