// Package cache defines the byte store shared by the JWKS source and any
// other component that caches identity provider responses.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get and Delete for absent or expired keys.
var ErrNotFound = errors.New("cache: key not found")

// Store is a TTL key/value store. Values are opaque; callers own the
// encoding. A ttl <= 0 means the entry does not expire.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// HealthChecker is implemented by stores backed by a remote service.
type HealthChecker interface {
	Health(ctx context.Context) error
}
