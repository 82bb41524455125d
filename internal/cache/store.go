package cache

import (
	"context"
	"time"
)

// Store is the generic key-value contract the pipeline persists through.
// Implementations guarantee last-write-wins per key and nothing more; the
// pipeline never assumes cross-key ordering or transactions.
type Store interface {
	// Get returns the value for key, or found=false when the key is
	// missing or expired.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Set writes value under key. A ttl of zero means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Increment atomically adds delta to the counter stored at key and
	// returns the new value. A missing or expired counter starts at zero.
	// When ttl is positive the counter's expiry is refreshed on every call
	// so a crashed holder cannot leak it forever; a non-positive ttl
	// leaves any existing expiry in place.
	Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)
}

// Sweeper is implemented by stores that need periodic cleanup of expired
// rows. The memory store expires lazily; the SQLite store keeps expired
// rows until swept.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (int64, error)
}
