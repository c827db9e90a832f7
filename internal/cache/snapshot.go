package cache

import (
	"context"
	"sync"
	"time"

	"presenceboard/internal/models"
)

// UserLoader is the slice of the store the snapshot cache depends on
type UserLoader interface {
	FindAllUsers(ctx context.Context) ([]models.UserRecord, error)
}

// UserCache holds a time-bounded snapshot of the full user table.
// The snapshot is replaced wholesale on refresh, never mutated in
// place; a failed refresh keeps the previous snapshot usable.
type UserCache struct {
	loader UserLoader
	ttl    time.Duration

	mu        sync.RWMutex
	snapshot  []models.UserRecord
	fetchedAt time.Time
}

// DefaultTTL is the maximum snapshot age before a reload
const DefaultTTL = 60 * time.Second

// NewUserCache creates a snapshot cache over the given loader
func NewUserCache(loader UserLoader, ttl time.Duration) *UserCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &UserCache{loader: loader, ttl: ttl}
}

// GetUsers returns the cached user snapshot, reloading it from the
// store when it is empty or older than the TTL. When a reload fails
// the previous snapshot is returned alongside the error, so callers
// can choose between failing and serving stale data.
func (c *UserCache) GetUsers(ctx context.Context) ([]models.UserRecord, error) {
	c.mu.RLock()
	if c.fresh() {
		snap := c.snapshot
		c.mu.RUnlock()
		return snap, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another caller may have refreshed while we waited for the lock
	if c.fresh() {
		return c.snapshot, nil
	}

	users, err := c.loader.FindAllUsers(ctx)
	if err != nil {
		return c.snapshot, err
	}

	c.snapshot = users
	c.fetchedAt = time.Now()
	return c.snapshot, nil
}

// fresh reports whether the current snapshot is usable without a
// reload. Caller must hold at least a read lock.
func (c *UserCache) fresh() bool {
	return len(c.snapshot) > 0 && time.Since(c.fetchedAt) <= c.ttl
}

// Append makes a newly created user visible before the next refresh.
// The snapshot is replaced, not mutated, so readers holding the old
// slice are unaffected.
func (c *UserCache) Append(user models.UserRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := make([]models.UserRecord, 0, len(c.snapshot)+1)
	next = append(next, c.snapshot...)
	next = append(next, user)
	c.snapshot = next
}

// Invalidate forces the next GetUsers call to reload
func (c *UserCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetchedAt = time.Time{}
	c.snapshot = nil
}

// Size returns the number of records in the current snapshot
func (c *UserCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.snapshot)
}

// FetchedAt returns when the current snapshot was loaded
func (c *UserCache) FetchedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fetchedAt
}
