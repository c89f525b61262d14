package shared

import (
	"context"
	"time"
)

// IdempotencyStore suppresses replayed requests. The internal deduct
// endpoint marks each Idempotency-Key before charging; a retry of an
// already-marked key is acknowledged without a second debit.
type IdempotencyStore interface {
	// MarkProcessed records the key with a TTL. It reports true when the
	// key is new and false when a previous call already claimed it.
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Close releases the store's resources.
	Close() error
}
