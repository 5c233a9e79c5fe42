package cache

import (
	"context"
	"time"
)

// Cache holds in-process values of any type. Values are shared, so callers
// must treat them as immutable.
type Cache interface {
	Get(key string) (any, bool)
	Set(key string, value any, cost int64, ttl time.Duration) bool
	Del(key string)
}

// Store holds serialised values. Every Get returns a fresh byte slice, which
// is what keeps cached documents from aliasing between callers.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	// Clear removes every entry owned by the store.
	Clear(ctx context.Context) error
	// Len counts unexpired entries.
	Len(ctx context.Context) (int, error)
}

// minStoreTTL is the smallest TTL handed to a backend. Backends treat zero
// or negative durations as "never expire".
const minStoreTTL = time.Millisecond

func clampTTL(ttl time.Duration) time.Duration {
	if ttl < minStoreTTL {
		return minStoreTTL
	}
	return ttl
}
