// Package cache provides the credential cache tiers and the idempotency
// store backing the internal deduct endpoint.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/automna/backend/internal/application/gate"
	"github.com/automna/backend/internal/domain/shared"
	"github.com/automna/backend/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Factory creates cache components based on configuration
type Factory struct {
	cacheConfig           config.CacheConfig
	redisConfig           config.RedisConfig
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// FactoryOption is a functional option for configuring the factory
type FactoryOption func(*Factory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) FactoryOption {
	return func(f *Factory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether to fall back to in-memory
// implementations when Redis is unavailable. Default is true.
// In-memory tiers do not share state across instances; in a multi-replica
// deployment that weakens credential staleness bounds and deduct
// deduplication to per-process scope.
func WithInMemoryFallback(allow bool) FactoryOption {
	return func(f *Factory) {
		f.allowInMemoryFallback = allow
	}
}

// NewFactory creates a new cache factory
func NewFactory(cacheCfg config.CacheConfig, redisCfg config.RedisConfig, opts ...FactoryOption) *Factory {
	f := &Factory{
		cacheConfig:           cacheCfg,
		redisConfig:           redisCfg,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// CreateTokenCache creates the credential cache tier selected by
// configuration. When the redis backend cannot be reached and fallback is
// allowed, the in-memory tier is used instead so the gate stays up.
func (f *Factory) CreateTokenCache() (gate.TokenCache, error) {
	switch f.cacheConfig.Backend {
	case "redis":
		client, err := f.connectRedis()
		if err != nil {
			if !f.allowInMemoryFallback {
				return nil, fmt.Errorf("failed to create redis token cache: %w", err)
			}
			f.logger.Warn("redis unavailable, falling back to in-memory credential cache",
				zap.Error(err))
			return f.memoryTokenCache(), nil
		}
		f.logger.Info("using redis credential cache")
		return NewRedisTokenCache(client, f.cacheConfig.TTL, f.logger), nil
	default:
		return f.memoryTokenCache(), nil
	}
}

// CreateIdempotencyStore creates the store deduplicating internal deduct
// requests, matching the configured cache backend.
func (f *Factory) CreateIdempotencyStore() (shared.IdempotencyStore, error) {
	if f.cacheConfig.Backend != "redis" {
		return NewInMemoryIdempotencyStore(), nil
	}

	store, err := NewRedisIdempotencyStore(RedisConfig{
		Host:     f.redisConfig.Host,
		Port:     f.redisConfig.Port,
		Password: f.redisConfig.Password,
		DB:       f.redisConfig.DB,
	})
	if err != nil {
		if !f.allowInMemoryFallback {
			return nil, fmt.Errorf("failed to create redis idempotency store: %w", err)
		}
		f.logger.Warn("redis unavailable, falling back to in-memory idempotency store",
			zap.Error(err))
		return NewInMemoryIdempotencyStore(), nil
	}
	f.logger.Info("using redis idempotency store")
	return store, nil
}

func (f *Factory) memoryTokenCache() *MemoryTokenCache {
	return NewMemoryTokenCache(
		WithTokenTTL(f.cacheConfig.TTL),
		WithTokenCacheLogger(f.logger),
	)
}

func (f *Factory) connectRedis() (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", f.redisConfig.Host, f.redisConfig.Port),
		Password: f.redisConfig.Password,
		DB:       f.redisConfig.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}
