// Package cache provides the byte cache behind registry metadata lookups.
//
// Packuments are large and change rarely, so the registry client keeps the
// raw JSON response in a [Cache] keyed by registry URL and package name.
// Three backends are available:
//
//   - [FileCache]: one file per key under the user's cache directory (default)
//   - [RedisCache]: a shared Redis instance, for CI fleets that install often
//   - [NullCache]: disables caching entirely
//
// Keys are built by a [Keyer] so that two registries never share entries.
package cache

import (
	"context"
	"time"
)

// Cache stores opaque byte values with an optional time-to-live.
//
// Implementations must be safe for concurrent use. A miss is reported as
// (nil, false, nil); errors are reserved for backend failures.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}
