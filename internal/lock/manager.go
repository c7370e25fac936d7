// Package lock implements exclusive, time-bounded rack leases and user
// presence markers on top of a key-value store.
//
// Ownership is never cached in the process: every check is a value comparison
// performed atomically by the store, so any number of API instances can share
// the same store. Abandoned leases are reclaimed by TTL expiry alone.
package lock

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"stockcount-sync-api/internal/cache"
	"stockcount-sync-api/internal/logging"
	"stockcount-sync-api/internal/metrics"
	"stockcount-sync-api/internal/syncerr"
)

// DefaultKeyPrefix namespaces all keys written by the manager.
const DefaultKeyPrefix = "stockcount"

// Event names published on the events channel.
const (
	EventRackLocked   = "rack_locked"
	EventRackReleased = "rack_released"
)

// ErrRackLocked is returned by WithRackLock when another owner holds the rack.
var ErrRackLocked = syncerr.New(syncerr.KindLockConflict, "rack is locked by another owner")

// Info is a read-only view of a rack lease.
type Info struct {
	RackID     string `json:"rack_id"`
	Locked     bool   `json:"locked"`
	Owner      string `json:"owner,omitempty"`
	TTLSeconds int64  `json:"ttl_seconds"`
}

// Event is published when a rack lease is taken or given back.
type Event struct {
	Event  string    `json:"event"`
	RackID string    `json:"rack_id"`
	Owner  string    `json:"owner"`
	At     time.Time `json:"at"`
}

// Manager hands out rack leases and tracks user presence.
type Manager struct {
	store  cache.Store
	prefix string
	log    zerolog.Logger
}

// NewManager creates a lock manager. An empty prefix uses DefaultKeyPrefix.
func NewManager(store cache.Store, prefix string) *Manager {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Manager{
		store:  store,
		prefix: prefix,
		log:    logging.Component("lock"),
	}
}

func (m *Manager) rackKey(rackID string) string {
	return m.prefix + ":lock:rack:" + rackID
}

func (m *Manager) presenceKey(userID string) string {
	return m.prefix + ":presence:user:" + userID
}

// EventsChannel is the pub/sub channel lock events are published on.
func (m *Manager) EventsChannel() string {
	return m.prefix + ":events"
}

// checkTTL rejects leases that would never expire. Redis treats a zero TTL
// as no expiry.
func checkTTL(ttl time.Duration) error {
	if ttl <= 0 {
		return syncerr.New(syncerr.KindValidation, "lease ttl must be positive, got %s", ttl)
	}
	return nil
}

// AcquireRackLock takes the rack if nobody holds it. It does not extend a
// lease the owner already holds; use RenewRackLock for that.
func (m *Manager) AcquireRackLock(ctx context.Context, rackID, owner string, ttl time.Duration) (bool, error) {
	if err := checkTTL(ttl); err != nil {
		return false, err
	}
	ok, err := m.store.SetNX(ctx, m.rackKey(rackID), owner, ttl)
	if err != nil {
		metrics.LockOperations.WithLabelValues("acquire", "error").Inc()
		return false, syncerr.Transient(err, "acquire rack lock %s", rackID)
	}
	if !ok {
		metrics.LockOperations.WithLabelValues("acquire", "busy").Inc()
		return false, nil
	}

	metrics.LockOperations.WithLabelValues("acquire", "ok").Inc()
	m.log.Debug().Str("rack_id", rackID).Str("owner", owner).Dur("ttl", ttl).Msg("rack lock acquired")
	m.publish(ctx, EventRackLocked, rackID, owner)
	return true, nil
}

// ReleaseRackLock gives the rack back if owner currently holds it.
func (m *Manager) ReleaseRackLock(ctx context.Context, rackID, owner string) (bool, error) {
	ok, err := m.store.CompareAndDelete(ctx, m.rackKey(rackID), owner)
	if err != nil {
		metrics.LockOperations.WithLabelValues("release", "error").Inc()
		return false, syncerr.Transient(err, "release rack lock %s", rackID)
	}
	if !ok {
		metrics.LockOperations.WithLabelValues("release", "not_owner").Inc()
		return false, nil
	}

	metrics.LockOperations.WithLabelValues("release", "ok").Inc()
	m.log.Debug().Str("rack_id", rackID).Str("owner", owner).Msg("rack lock released")
	m.publish(ctx, EventRackReleased, rackID, owner)
	return true, nil
}

// RenewRackLock resets the lease TTL if owner currently holds it.
func (m *Manager) RenewRackLock(ctx context.Context, rackID, owner string, ttl time.Duration) (bool, error) {
	if err := checkTTL(ttl); err != nil {
		return false, err
	}
	ok, err := m.store.CompareAndExpire(ctx, m.rackKey(rackID), owner, ttl)
	if err != nil {
		metrics.LockOperations.WithLabelValues("renew", "error").Inc()
		return false, syncerr.Transient(err, "renew rack lock %s", rackID)
	}
	if !ok {
		metrics.LockOperations.WithLabelValues("renew", "not_owner").Inc()
		return false, nil
	}
	metrics.LockOperations.WithLabelValues("renew", "ok").Inc()
	return true, nil
}

// RackLockOwner returns the current owner, or "" if the rack is free.
func (m *Manager) RackLockOwner(ctx context.Context, rackID string) (string, error) {
	owner, err := m.store.Get(ctx, m.rackKey(rackID))
	if errors.Is(err, cache.ErrCacheMiss) {
		return "", nil
	}
	if err != nil {
		return "", syncerr.Transient(err, "read rack lock %s", rackID)
	}
	return owner, nil
}

// RackLockTTL returns the remaining lease time, or zero if the rack is free.
func (m *Manager) RackLockTTL(ctx context.Context, rackID string) (time.Duration, error) {
	ttl, err := m.store.TTL(ctx, m.rackKey(rackID))
	if errors.Is(err, cache.ErrCacheMiss) {
		return 0, nil
	}
	if err != nil {
		return 0, syncerr.Transient(err, "read rack lock ttl %s", rackID)
	}
	return ttl, nil
}

// IsRackLocked reports whether any owner holds the rack.
func (m *Manager) IsRackLocked(ctx context.Context, rackID string) (bool, error) {
	owner, err := m.RackLockOwner(ctx, rackID)
	if err != nil {
		return false, err
	}
	return owner != "", nil
}

// RackLockInfo returns owner and remaining TTL in one view.
func (m *Manager) RackLockInfo(ctx context.Context, rackID string) (*Info, error) {
	owner, err := m.RackLockOwner(ctx, rackID)
	if err != nil {
		return nil, err
	}
	info := &Info{RackID: rackID, Locked: owner != "", Owner: owner}
	if !info.Locked {
		return info, nil
	}
	ttl, err := m.RackLockTTL(ctx, rackID)
	if err != nil {
		return nil, err
	}
	info.TTLSeconds = int64(ttl / time.Second)
	return info, nil
}

// WithRackLock runs fn while holding the rack. The lease is released on every
// exit path, including panics; if the process dies instead, the TTL frees it.
func (m *Manager) WithRackLock(ctx context.Context, rackID, owner string, ttl time.Duration, fn func(ctx context.Context) error) error {
	ok, err := m.AcquireRackLock(ctx, rackID, owner, ttl)
	if err != nil {
		return err
	}
	if !ok {
		return ErrRackLocked
	}

	defer func() {
		// The caller's context may already be cancelled; release on a fresh one.
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if _, err := m.ReleaseRackLock(relCtx, rackID, owner); err != nil {
			m.log.Warn().Err(err).Str("rack_id", rackID).Msg("release after scoped use failed, lease will expire")
		}
	}()

	return fn(ctx)
}

// UpdateUserHeartbeat marks userID present for ttl.
func (m *Manager) UpdateUserHeartbeat(ctx context.Context, userID string, ttl time.Duration) error {
	if err := m.store.Set(ctx, m.presenceKey(userID), time.Now().UTC().Format(time.RFC3339), ttl); err != nil {
		return syncerr.Transient(err, "update heartbeat for %s", userID)
	}
	return nil
}

// IsUserActive reports whether userID's presence marker is still live.
func (m *Manager) IsUserActive(ctx context.Context, userID string) (bool, error) {
	_, err := m.store.Get(ctx, m.presenceKey(userID))
	if errors.Is(err, cache.ErrCacheMiss) {
		return false, nil
	}
	if err != nil {
		return false, syncerr.Transient(err, "read heartbeat for %s", userID)
	}
	return true, nil
}

func (m *Manager) publish(ctx context.Context, event, rackID, owner string) {
	payload, err := json.Marshal(Event{Event: event, RackID: rackID, Owner: owner, At: time.Now().UTC()})
	if err != nil {
		return
	}
	if err := m.store.Publish(ctx, m.EventsChannel(), string(payload)); err != nil {
		m.log.Warn().Err(err).Str("event", event).Str("rack_id", rackID).Msg("publish lock event failed")
	}
}
