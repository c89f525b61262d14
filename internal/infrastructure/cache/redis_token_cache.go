package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/automna/backend/internal/domain/identity"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const tokenKeyPrefix = "gate:token:"

// RedisTokenCache is the shared credential cache tier for multi-instance
// deployments. Values are JSON-encoded tenant contexts stored under the
// token hash with the staleness TTL; cache failures degrade to misses.
type RedisTokenCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisTokenCache creates a Redis-backed credential cache using an
// existing client.
func NewRedisTokenCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisTokenCache {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisTokenCache{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// MaxStaleness returns the entry TTL
func (c *RedisTokenCache) MaxStaleness() time.Duration {
	return c.ttl
}

// Get returns the cached tenant context for a token hash. Redis errors
// and decode failures are misses: the resolver falls through to the
// credential store.
func (c *RedisTokenCache) Get(ctx context.Context, tokenHash string) (*identity.TenantContext, bool) {
	data, err := c.client.Get(ctx, tokenKeyPrefix+tokenHash).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("credential cache read failed", zap.Error(err))
		}
		return nil, false
	}

	var tc identity.TenantContext
	if err := json.Unmarshal(data, &tc); err != nil {
		c.logger.Warn("credential cache entry corrupt, dropping", zap.Error(err))
		c.client.Del(ctx, tokenKeyPrefix+tokenHash)
		return nil, false
	}
	return &tc, true
}

// Set stores a resolved tenant context under its token hash. Write
// failures are logged and absorbed; the cache is an optimization layer.
func (c *RedisTokenCache) Set(ctx context.Context, tokenHash string, tc *identity.TenantContext) {
	if tc == nil {
		return
	}
	data, err := json.Marshal(tc)
	if err != nil {
		c.logger.Warn("credential cache encode failed", zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, tokenKeyPrefix+tokenHash, data, c.ttl).Err(); err != nil {
		c.logger.Warn("credential cache write failed", zap.Error(err))
	}
}
