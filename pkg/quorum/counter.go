package quorum

import (
	"context"
	"time"
)

// Counter is the shared atomic counter store a CounterCoordinator
// synchronizes through. Implementations must make every operation atomic
// and observed in a total order; no compare-and-swap loop is needed on top
// of these primitives.
type Counter interface {
	// AddIfAbsent creates the key with the given initial value and TTL if
	// it does not exist yet. Existing keys are left untouched.
	AddIfAbsent(ctx context.Context, key string, initial int64, ttl time.Duration) error

	// Incr atomically increments the key by one and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)

	// Decr atomically decrements the key by one and returns the new value.
	Decr(ctx context.Context, key string) (int64, error)

	// Get returns the key's value and whether the key exists.
	Get(ctx context.Context, key string) (int64, bool, error)

	// Delete removes the given keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
}
