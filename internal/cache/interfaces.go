package cache

import (
	"context"
	"time"
)

// Store defines the key-value operations the coordination layer relies on.
// The compare-and-* operations must be atomic in the backing store: they are
// the only cross-process mutual exclusion the lock manager has.
type Store interface {
	// Get retrieves a value by key. Returns ErrCacheMiss if not found.
	Get(ctx context.Context, key string) (string, error)

	// Set stores a value with the given TTL, replacing any previous value.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetNX stores a value only if the key is absent. Reports whether it was set.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Delete removes a value by key.
	Delete(ctx context.Context, key string) error

	// CompareAndDelete removes key only if it currently holds expected.
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)

	// CompareAndExpire resets the TTL of key only if it currently holds expected.
	CompareAndExpire(ctx context.Context, key, expected string, ttl time.Duration) (bool, error)

	// Expire resets the TTL of an existing key. Reports whether the key existed.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// TTL returns the remaining lifetime of key. Returns ErrCacheMiss if absent.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// IncrWindow increments a counter that expires window after its first
	// increment, returning the new count and the time left in the window.
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)

	// Publish sends message on a pub/sub channel.
	Publish(ctx context.Context, channel, message string) error

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// Common cache errors
type CacheError string

func (e CacheError) Error() string { return string(e) }

const (
	// ErrCacheMiss indicates the key was not found in cache.
	ErrCacheMiss CacheError = "cache miss"
)
