// Package cache defines the key-value capability the resolution service
// reads through. Entries expire by TTL only; this layer never deletes.
package cache

import (
	"context"
	"time"
)

// Store is the cache capability: get and put by string key.
type Store interface {
	// Get decodes the value stored under key into value. It reports false
	// with a nil error on a miss.
	Get(ctx context.Context, key string, value any) (bool, error)
	// Set stores value under key for ttl.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Close() error
}

// BlobStore is implemented by stores that can hold raw byte blobs
// without a TTL, used to share auxiliary state between instances.
type BlobStore interface {
	GetBlob(ctx context.Context, key string) ([]byte, bool, error)
	SetBlob(ctx context.Context, key string, data []byte) error
}
