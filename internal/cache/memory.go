package cache

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// cacheEntry represents a cached value with expiration.
type cacheEntry struct {
	value     string
	expiresAt time.Time
}

// isExpired checks if the entry has expired at now.
func (e *cacheEntry) isExpired(now time.Time) bool {
	return !now.Before(e.expiresAt)
}

// MemoryStore is an in-memory implementation of Store.
// Use this for development/testing or single-instance deployments: its
// atomicity only holds within one process.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	subs    map[string][]chan string
	now     func() time.Time

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

// NewMemoryStore creates a new in-memory store with automatic cleanup.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(time.Now)
}

// NewMemoryStoreWithClock creates a store that reads time from now, so tests
// can expire leases without sleeping.
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	c := &MemoryStore{
		entries:         make(map[string]*cacheEntry),
		subs:            make(map[string][]chan string),
		now:             now,
		cleanupInterval: time.Minute,
		stopCleanup:     make(chan struct{}),
	}

	go c.cleanup()

	return c
}

// live returns the unexpired entry for key. Caller holds mu.
func (c *MemoryStore) live(key string) (*cacheEntry, bool) {
	entry, exists := c.entries[key]
	if !exists || entry.isExpired(c.now()) {
		return nil, false
	}
	return entry, true
}

// Get retrieves a value by key.
func (c *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.live(key)
	if !ok {
		return "", ErrCacheMiss
	}
	return entry.value, nil
}

// Set stores a value with the given TTL.
func (c *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = &cacheEntry{value: value, expiresAt: c.now().Add(ttl)}
	return nil
}

// SetNX stores a value only if no live entry exists.
func (c *MemoryStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.live(key); ok {
		return false, nil
	}
	c.entries[key] = &cacheEntry{value: value, expiresAt: c.now().Add(ttl)}
	return true, nil
}

// Delete removes a value by key.
func (c *MemoryStore) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
	return nil
}

// CompareAndDelete removes key if it holds expected.
func (c *MemoryStore) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.live(key)
	if !ok || entry.value != expected {
		return false, nil
	}
	delete(c.entries, key)
	return true, nil
}

// CompareAndExpire resets the TTL of key if it holds expected.
func (c *MemoryStore) CompareAndExpire(ctx context.Context, key, expected string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.live(key)
	if !ok || entry.value != expected {
		return false, nil
	}
	entry.expiresAt = c.now().Add(ttl)
	return true, nil
}

// Expire resets the TTL of an existing key.
func (c *MemoryStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.live(key)
	if !ok {
		return false, nil
	}
	entry.expiresAt = c.now().Add(ttl)
	return true, nil
}

// TTL returns the remaining lifetime of key.
func (c *MemoryStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.live(key)
	if !ok {
		return 0, ErrCacheMiss
	}
	return entry.expiresAt.Sub(c.now()), nil
}

// IncrWindow increments a windowed counter.
func (c *MemoryStore) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	entry, ok := c.live(key)
	if !ok {
		entry = &cacheEntry{value: "0", expiresAt: now.Add(window)}
		c.entries[key] = entry
	}

	count, _ := strconv.ParseInt(entry.value, 10, 64)
	count++
	entry.value = strconv.FormatInt(count, 10)

	return count, entry.expiresAt.Sub(now), nil
}

// Publish delivers message to current subscribers without blocking.
func (c *MemoryStore) Publish(ctx context.Context, channel, message string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, ch := range c.subs[channel] {
		select {
		case ch <- message:
		default:
		}
	}
	return nil
}

// Subscribe returns a buffered channel receiving messages published on channel.
func (c *MemoryStore) Subscribe(channel string, buffer int) <-chan string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan string, buffer)
	c.subs[channel] = append(c.subs[channel], ch)
	return ch
}

// Ping always succeeds.
func (c *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close stops the background cleanup goroutine.
func (c *MemoryStore) Close() error {
	c.stopOnce.Do(func() { close(c.stopCleanup) })
	return nil
}

// cleanup periodically removes expired entries.
func (c *MemoryStore) cleanup() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.stopCleanup:
			return
		}
	}
}

// removeExpired removes all expired entries.
func (c *MemoryStore) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, entry := range c.entries {
		if entry.isExpired(now) {
			delete(c.entries, key)
		}
	}
}

var _ Store = (*MemoryStore)(nil)
