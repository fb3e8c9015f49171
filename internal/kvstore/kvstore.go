// Package kvstore provides the single KV store abstraction used by the
// rate limiter, health tracker, and dead-letter list. It exists so tests
// can substitute an in-memory fake for Redis at the boundary.
package kvstore

import (
	"context"
	"time"
)

// Store is the KV boundary the core depends on: atomic counter increment
// with expiry-on-first-write, non-mutating get, delete, and list push/range
// for the dead-letter list.
type Store interface {
	// IncrWithExpire atomically increments key by 1 and, if this was the
	// first increment (the key did not previously exist), sets its TTL to
	// expire. It returns the post-increment value.
	IncrWithExpire(ctx context.Context, key string, expire time.Duration) (int64, error)

	// Get returns the integer value stored at key, or 0 if the key is
	// absent. A value that is not an integer is reported as an error.
	Get(ctx context.Context, key string) (int64, error)

	// Expire refreshes the TTL on an existing key.
	Expire(ctx context.Context, key string, expire time.Duration) error

	// Del deletes the given keys. Missing keys are not an error.
	Del(ctx context.Context, keys ...string) error

	// LPush pushes a value onto the head of a list.
	LPush(ctx context.Context, key string, value string) error

	// LRange returns a slice of a list between start and stop (inclusive,
	// -1 meaning "to the end").
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	// Ping checks connectivity to the backing store.
	Ping(ctx context.Context) error

	Close() error
}
