package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/automna/backend/internal/domain/identity"
	"go.uber.org/zap"
)

// Constants for the credential cache
const (
	// DefaultTokenTTL is the credential staleness bound: plan changes and
	// revocations propagate within this window.
	DefaultTokenTTL = 5 * time.Minute

	tokenCleanupInterval = 30 * time.Second
)

// MemoryTokenCache is the in-process credential cache. It is the default
// tier for single-instance deployments and the L1 tier in front of Redis.
// Entries are keyed by token hash, never by the raw token.
type MemoryTokenCache struct {
	entries sync.Map // map[string]*tokenEntry
	ttl     time.Duration
	logger  *zap.Logger
	stopCh  chan struct{}
	stopped int32

	// Stats for monitoring
	hits   int64
	misses int64
}

type tokenEntry struct {
	tc        *identity.TenantContext
	expiresAt time.Time
}

func (e *tokenEntry) isExpired() bool {
	return time.Now().After(e.expiresAt)
}

// MemoryTokenCacheOption is a functional option for configuring the cache
type MemoryTokenCacheOption func(*MemoryTokenCache)

// WithTokenTTL overrides the default entry TTL
func WithTokenTTL(ttl time.Duration) MemoryTokenCacheOption {
	return func(c *MemoryTokenCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithTokenCacheLogger sets the logger for the cache
func WithTokenCacheLogger(logger *zap.Logger) MemoryTokenCacheOption {
	return func(c *MemoryTokenCache) {
		c.logger = logger
	}
}

// NewMemoryTokenCache creates a new in-memory credential cache
func NewMemoryTokenCache(opts ...MemoryTokenCacheOption) *MemoryTokenCache {
	c := &MemoryTokenCache{
		ttl:    DefaultTokenTTL,
		logger: zap.NewNop(),
		stopCh: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	// Start background cleanup goroutine
	go c.cleanupExpired()

	return c
}

// MaxStaleness returns the longest time a revoked or re-planned credential
// can keep resolving from this cache.
func (c *MemoryTokenCache) MaxStaleness() time.Duration {
	return c.ttl
}

// Get returns the cached tenant context for a token hash. Expired entries
// are removed and reported as misses.
func (c *MemoryTokenCache) Get(_ context.Context, tokenHash string) (*identity.TenantContext, bool) {
	if value, ok := c.entries.Load(tokenHash); ok {
		entry := value.(*tokenEntry)
		if !entry.isExpired() {
			atomic.AddInt64(&c.hits, 1)
			return entry.tc, true
		}
		c.entries.Delete(tokenHash)
	}

	atomic.AddInt64(&c.misses, 1)
	return nil, false
}

// Set stores a resolved tenant context under its token hash
func (c *MemoryTokenCache) Set(_ context.Context, tokenHash string, tc *identity.TenantContext) {
	if tc == nil {
		return
	}
	c.entries.Store(tokenHash, &tokenEntry{
		tc:        tc,
		expiresAt: time.Now().Add(c.ttl),
	})
}

// Stats returns hit/miss counters for monitoring
func (c *MemoryTokenCache) Stats() (hits, misses, size int64) {
	c.entries.Range(func(_, _ any) bool {
		size++
		return true
	})
	return atomic.LoadInt64(&c.hits), atomic.LoadInt64(&c.misses), size
}

// Stop terminates the background cleanup goroutine
func (c *MemoryTokenCache) Stop() {
	if atomic.CompareAndSwapInt32(&c.stopped, 0, 1) {
		close(c.stopCh)
	}
}

// cleanupExpired periodically sweeps expired entries so an abandoned token
// does not pin its tenant context forever.
func (c *MemoryTokenCache) cleanupExpired() {
	ticker := time.NewTicker(tokenCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			removed := 0
			c.entries.Range(func(key, value any) bool {
				if value.(*tokenEntry).isExpired() {
					c.entries.Delete(key)
					removed++
				}
				return true
			})
			if removed > 0 {
				c.logger.Debug("credential cache cleanup", zap.Int("removed", removed))
			}
		}
	}
}
