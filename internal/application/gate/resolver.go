// Package gate authorizes proxied requests: it resolves credentials,
// enforces the quota gates and settles usage after the upstream call.
package gate

import (
	"context"
	"errors"
	"time"

	"github.com/automna/backend/internal/domain/identity"
	"github.com/automna/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// TokenCache is the bounded-staleness cache in front of the credential
// store, keyed by the SHA-256 hash of the raw token. Implementations
// enforce the TTL themselves; Get never returns an expired entry.
type TokenCache interface {
	Get(ctx context.Context, tokenHash string) (*identity.TenantContext, bool)
	Set(ctx context.Context, tokenHash string, tc *identity.TenantContext)
}

// Resolver maps raw bearer tokens to tenant contexts through the cache.
// Credential store failures are deliberately collapsed into not-found:
// the gate fails closed, it never serves a request it cannot attribute.
type Resolver struct {
	credentials identity.CredentialRepository
	cache       TokenCache
	logger      *zap.Logger
	readTimeout time.Duration
}

// ResolverConfig contains configuration for Resolver
type ResolverConfig struct {
	Credentials identity.CredentialRepository
	Cache       TokenCache
	Logger      *zap.Logger
	ReadTimeout time.Duration // Default: 2s
}

// NewResolver creates a new Resolver
func NewResolver(cfg ResolverConfig) *Resolver {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.ReadTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Resolver{
		credentials: cfg.Credentials,
		cache:       cfg.Cache,
		logger:      logger,
		readTimeout: timeout,
	}
}

// Resolve returns the tenant context for a raw token, consulting the
// cache first. Returns shared.ErrNotFound for unknown, inactive or
// unresolvable credentials.
func (r *Resolver) Resolve(ctx context.Context, token string) (*identity.TenantContext, error) {
	if token == "" {
		return nil, shared.ErrNotFound
	}
	tokenHash := identity.HashToken(token)

	if tc, ok := r.cache.Get(ctx, tokenHash); ok {
		return tc, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.readTimeout)
	defer cancel()

	tc, err := r.credentials.FindByToken(ctx, token)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			// Infra failure. Fail closed rather than exposing the error
			// class to an unauthenticated caller.
			r.logger.Error("credential lookup failed", zap.Error(err))
		}
		return nil, shared.ErrNotFound
	}

	r.cache.Set(ctx, tokenHash, tc)
	return tc, nil
}
