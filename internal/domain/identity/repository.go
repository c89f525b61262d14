package identity

import (
	"context"

	"github.com/google/uuid"
)

// TenantRepository reads tenant rows provisioned by the out-of-core flow
type TenantRepository interface {
	// FindByID returns the tenant, or shared.ErrNotFound
	FindByID(ctx context.Context, id uuid.UUID) (*Tenant, error)

	// SetStripeID persists the external billing customer id once created
	SetStripeID(ctx context.Context, id uuid.UUID, stripeID string) error
}
