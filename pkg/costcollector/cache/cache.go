package cache

import (
	"sync"
	"time"

	"k8s.io/klog/v2"

	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/clock"
	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/metrics"
)

// Cache provides thread-safe caching of values with TTL. Entries older than
// ttl are reported as misses; entries older than maxAge are evicted by the
// cleanup goroutine.
type Cache[V any] struct {
	name   string
	data   map[string]*cacheEntry[V]
	mutex  sync.RWMutex
	ttl    time.Duration
	maxAge time.Duration
	clock  clock.Clock
	stopCh chan struct{}
	once   sync.Once
	stats  *stats
}

type cacheEntry[V any] struct {
	value     V
	timestamp time.Time
	hits      int64
}

type stats struct {
	hits   int64
	misses int64
	mutex  sync.RWMutex
}

// Option allows customizing the cache
type Option func(*options)

type options struct {
	clock clock.Clock
}

// WithClock sets the time source used for entry ages
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// New creates a new cache instance. name labels the lookup metrics.
func New[V any](name string, ttl time.Duration, maxAge time.Duration, opts ...Option) *Cache[V] {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	if maxAge < ttl {
		maxAge = ttl
	}

	o := &options{clock: clock.RealClock{}}
	for _, opt := range opts {
		opt(o)
	}

	c := &Cache[V]{
		name:   name,
		data:   make(map[string]*cacheEntry[V]),
		ttl:    ttl,
		maxAge: maxAge,
		clock:  o.clock,
		stopCh: make(chan struct{}),
		stats:  &stats{},
	}

	go c.cleanup()

	return c
}

// Get retrieves a value if it is younger than the TTL
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V

	c.mutex.RLock()
	entry, exists := c.data[key]
	c.mutex.RUnlock()

	if !exists {
		c.recordMiss()
		return zero, false
	}

	if c.clock.Since(entry.timestamp) > c.ttl {
		c.recordMiss()
		return zero, false
	}

	c.mutex.Lock()
	entry.hits++
	c.mutex.Unlock()
	c.recordHit()

	return entry.value, true
}

// GetStale retrieves a value regardless of TTL as long as it has not been
// evicted, together with its age
func (c *Cache[V]) GetStale(key string) (V, time.Duration, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	entry, exists := c.data[key]
	if !exists {
		var zero V
		return zero, 0, false
	}
	return entry.value, c.clock.Since(entry.timestamp), true
}

// Set stores value under key
func (c *Cache[V]) Set(key string, value V) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.data[key] = &cacheEntry[V]{
		value:     value,
		timestamp: c.clock.Now(),
	}

	klog.V(4).InfoS("Cached value", "cache", c.name, "key", key)
}

// GetMetrics returns cache hit and miss counts
func (c *Cache[V]) GetMetrics() (hits, misses int64) {
	c.stats.mutex.RLock()
	defer c.stats.mutex.RUnlock()
	return c.stats.hits, c.stats.misses
}

func (c *Cache[V]) recordHit() {
	c.stats.mutex.Lock()
	c.stats.hits++
	c.stats.mutex.Unlock()
	metrics.CacheLookups.WithLabelValues(c.name, "hit").Inc()
}

func (c *Cache[V]) recordMiss() {
	c.stats.mutex.Lock()
	c.stats.misses++
	c.stats.mutex.Unlock()
	metrics.CacheLookups.WithLabelValues(c.name, "miss").Inc()
}

// cleanup periodically removes entries older than maxAge
func (c *Cache[V]) cleanup() {
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

func (c *Cache[V]) removeExpired() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	for key, entry := range c.data {
		age := c.clock.Since(entry.timestamp)
		if age > c.maxAge {
			delete(c.data, key)
			klog.V(4).InfoS("Removed expired cache entry",
				"cache", c.name,
				"key", key,
				"age", age.String(),
				"hits", entry.hits)
		}
	}
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (c *Cache[V]) Close() {
	c.once.Do(func() {
		close(c.stopCh)
	})
}

// Clear removes all entries from the cache
func (c *Cache[V]) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.data = make(map[string]*cacheEntry[V])
	klog.V(4).InfoS("Cleared cache", "cache", c.name)
}

// Size returns the number of entries in the cache
func (c *Cache[V]) Size() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.data)
}

// Keys returns the cached keys in no particular order
func (c *Cache[V]) Keys() []string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	keys := make([]string, 0, len(c.data))
	for key := range c.data {
		keys = append(keys, key)
	}
	return keys
}
