package cache

import (
	"context"
	"time"
)

// Storage keeps the cache entries. All the methods must be safe for
// concurrent use.
type Storage interface {

	// Get returns the entry stored with key, or nil when there is none.
	// An error is returned only when the storage failed.
	Get(ctx context.Context, key string) (*Entry, error)

	// Put stores an entry, replacing the one stored with the same key.
	// The storage may drop the entry after ttl, or any time earlier.
	Put(ctx context.Context, key string, e *Entry, ttl time.Duration) error

	// Delete removes an entry.
	Delete(ctx context.Context, key string) error

	// Close releases the resources of the storage.
	Close() error
}
