package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
)

// VerdictCache memoizes secret-verification results so the bcrypt cost
// of a device heartbeat stream is paid once per (user, secret) pair
// per TTL window, not on every ping.
type VerdictCache interface {
	Get(name, secret string) (ok bool, found bool)
	Set(name, secret string, ok bool)
	Invalidate(name string)
	Size() int
	Clear()
	Metrics() CacheMetrics
}

// CacheMetrics provides cache performance metrics
type CacheMetrics struct {
	Hits        uint64
	Misses      uint64
	KeysAdded   uint64
	KeysEvicted uint64
}

// RistrettoConfig holds Ristretto cache configuration
type RistrettoConfig struct {
	MaxCost     int64         // Maximum cost of cache (bytes)
	NumCounters int64         // Number of counters for TinyLFU admission policy
	BufferItems int64         // Buffer size for async operations
	TTL         time.Duration // Lifetime of a cached verdict
	Metrics     bool          // Enable metrics collection
}

// verdictCache implements VerdictCache using Ristretto. Entries are
// keyed by user name, a per-name generation counter, and a digest of
// the secret; bumping the generation invalidates every verdict for
// that name without enumerating keys. Generation entries for names
// untouched for a full TTL are pruned, so the map is bounded by the
// names active within one TTL window.
type verdictCache struct {
	cache  *ristretto.Cache
	config RistrettoConfig

	mu   sync.Mutex
	gens map[string]generation
}

// generation tracks the invalidation counter for one name and when it
// was last used
type generation struct {
	gen     uint64
	touched time.Time
}

// NewVerdictCache creates a new Ristretto-based verdict cache
func NewVerdictCache(config RistrettoConfig) (VerdictCache, error) {
	if config.MaxCost <= 0 {
		config.MaxCost = 1 << 20
	}
	if config.NumCounters <= 0 {
		config.NumCounters = 10000
	}
	if config.BufferItems <= 0 {
		config.BufferItems = 64
	}
	if config.TTL <= 0 {
		config.TTL = time.Minute
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		MaxCost:     config.MaxCost,
		NumCounters: config.NumCounters,
		BufferItems: config.BufferItems,
		Metrics:     config.Metrics,
	})
	if err != nil {
		return nil, err
	}

	return &verdictCache{
		cache:  cache,
		config: config,
		gens:   make(map[string]generation),
	}, nil
}

// Get retrieves a cached verification verdict
func (c *verdictCache) Get(name, secret string) (bool, bool) {
	value, found := c.cache.Get(c.key(name, secret))
	if !found {
		return false, false
	}
	ok, valid := value.(bool)
	if !valid {
		return false, false
	}
	return ok, true
}

// Set stores a verification verdict
func (c *verdictCache) Set(name, secret string, ok bool) {
	key := c.key(name, secret)
	c.cache.SetWithTTL(key, ok, 1, c.config.TTL)
	// Ristretto buffers writes; Wait makes the verdict visible to the
	// next heartbeat immediately
	c.cache.Wait()
}

// Invalidate drops all cached verdicts for a user
func (c *verdictCache) Invalidate(name string) {
	c.mu.Lock()
	g := c.gens[name]
	g.gen++
	g.touched = time.Now()
	c.gens[name] = g
	c.pruneLocked()
	c.mu.Unlock()
}

// pruneLocked drops generation entries whose verdicts have all
// expired. A name untouched for a full TTL has no live verdicts left
// in the cache, so its counter can safely restart from zero.
func (c *verdictCache) pruneLocked() {
	cutoff := time.Now().Add(-c.config.TTL)
	for name, g := range c.gens {
		if g.touched.Before(cutoff) {
			delete(c.gens, name)
		}
	}
}

// Size returns the approximate number of cached verdicts
func (c *verdictCache) Size() int {
	if !c.config.Metrics {
		return 0
	}
	m := c.cache.Metrics
	return int(m.KeysAdded() - m.KeysEvicted())
}

// Clear removes all cached verdicts
func (c *verdictCache) Clear() {
	c.cache.Clear()
	c.mu.Lock()
	c.gens = make(map[string]generation)
	c.mu.Unlock()
}

// Metrics returns cache performance metrics
func (c *verdictCache) Metrics() CacheMetrics {
	if !c.config.Metrics {
		return CacheMetrics{}
	}
	m := c.cache.Metrics
	return CacheMetrics{
		Hits:        m.Hits(),
		Misses:      m.Misses(),
		KeysAdded:   m.KeysAdded(),
		KeysEvicted: m.KeysEvicted(),
	}
}

// key builds the cache key from name, generation and secret digest.
// The secret never appears in the cache in any recoverable form.
func (c *verdictCache) key(name, secret string) string {
	c.mu.Lock()
	g := c.gens[name]
	g.touched = time.Now()
	c.gens[name] = g
	c.mu.Unlock()

	digest := sha256.Sum256([]byte(secret))
	return fmt.Sprintf("%s.%d.%s", name, g.gen, hex.EncodeToString(digest[:]))
}
