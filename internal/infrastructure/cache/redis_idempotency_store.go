package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/automna/backend/internal/domain/shared"
	"github.com/redis/go-redis/v9"
)

const redisIdempotencyPrefix = "deduct:idempotency:"

// RedisIdempotencyStore shares idempotency state across gateway instances.
// A key claimed on one instance is visible to all of them, so a retried
// deduct can land anywhere behind the load balancer.
type RedisIdempotencyStore struct {
	client *redis.Client
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// NewRedisIdempotencyStore connects to Redis and verifies the connection
// before handing the store out. A gateway that cannot reach Redis must
// fail at startup, not on the first deduct.
func NewRedisIdempotencyStore(cfg RedisConfig) (*RedisIdempotencyStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisIdempotencyStore{client: client}, nil
}

// MarkProcessed claims the key with SETNX so the claim and the TTL land
// in one atomic command. Exactly one of two racing retries sees true.
func (s *RedisIdempotencyStore) MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	fresh, err := s.client.SetNX(ctx, redisIdempotencyPrefix+key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim idempotency key: %w", err)
	}
	return fresh, nil
}

// Close closes the Redis client
func (s *RedisIdempotencyStore) Close() error {
	return s.client.Close()
}

var _ shared.IdempotencyStore = (*RedisIdempotencyStore)(nil)
