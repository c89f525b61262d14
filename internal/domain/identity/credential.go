package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/automna/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// Credential maps an opaque gateway bearer token to a tenant. A credential
// is owned by exactly one tenant and can be rotated out-of-band; consumers
// must tolerate a bounded staleness window (see cache TTL).
type Credential struct {
	shared.BaseEntity
	TenantID   uuid.UUID `gorm:"type:uuid;not null;index"`
	TokenHash  string    `gorm:"type:varchar(64);not null;uniqueIndex"` // SHA-256 hex of the raw token
	AppName    string    `gorm:"type:varchar(200)"`
	Active     bool      `gorm:"not null;default:true"`
	LastActive *time.Time
}

// TableName returns the table name for GORM
func (Credential) TableName() string {
	return "credentials"
}

// HashToken returns the SHA-256 hex digest used to look up a raw token.
// Tokens are never stored or indexed in the clear.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// CredentialRepository is the durable lookup behind the credential cache
type CredentialRepository interface {
	// FindByToken resolves a raw bearer token to a tenant context.
	// Returns shared.ErrNotFound for unknown or inactive credentials.
	FindByToken(ctx context.Context, token string) (*TenantContext, error)

	// TouchLastActive records that the credential was recently used.
	// Advisory telemetry; callers debounce and ignore failures.
	TouchLastActive(ctx context.Context, tenantID uuid.UUID, at time.Time) error
}
