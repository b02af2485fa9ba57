package interfaces

import (
	"context"

	"trading-gateway/src/models"
)

// -----------------------------------------------------------------------------
// IIdempotencyCache maps client-supplied keys to prior order results.
// -----------------------------------------------------------------------------

type IIdempotencyCache interface {

	// -----------------------------------------------------------------------------

	// Get returns the cached result for key if present and unexpired.
	Get(key string) (models.MOrderResult, bool)

	// -----------------------------------------------------------------------------

	// Begin claims the key for this producer. When it returns true the caller
	// is the single executor and must finish with Put or Abort. When false,
	// wait blocks until the owning producer publishes (or ctx expires).
	Begin(key string) (leader bool, wait func(ctx context.Context) (models.MOrderResult, error))

	// -----------------------------------------------------------------------------

	// Put publishes the result under key and releases any waiters.
	Put(key string, result models.MOrderResult, ttlMs int64)

	// -----------------------------------------------------------------------------

	// Abort releases the key without a result so a later producer may retry.
	Abort(key string)
}
