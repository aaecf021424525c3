package sandbox

import (
	"context"
	"log"
	"sync"
	"time"
)

const (
	// DefaultTTL is how long an untouched cache entry stays alive.
	DefaultTTL = 5 * time.Minute
	// DefaultSweepInterval is how often the background sweep runs.
	DefaultSweepInterval = time.Minute
)

// cacheEntry pairs a live handle with its last access time.
type cacheEntry struct {
	handle       *Handle
	lastAccessed time.Time
}

// Cache is a time-bounded cache of sandbox handles keyed by sandbox
// name (or by override address for locally-forced sandboxes). It avoids
// a remote lookup on every request for the same session. Entries idle
// longer than the TTL are removed by a background sweep.
//
// Cache is safe for concurrent use. Construct it with NewCache and stop
// it with Stop so the sweep goroutine exits.
type Cache struct {
	client *Client

	mu      sync.Mutex
	entries map[string]*cacheEntry

	ttl  time.Duration
	done chan struct{}

	// onEvict, if set, is called with each key removed by the sweep.
	onEvict func(key string)
	// onHit and onMiss, if set, are called from Resolve.
	onHit  func()
	onMiss func()
}

// CacheOption customizes cache construction.
type CacheOption func(*Cache)

// WithTTL overrides the idle TTL.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) { c.ttl = ttl }
}

// WithStatsHook installs callbacks fired on cache hits and misses.
func WithStatsHook(onHit, onMiss func()) CacheOption {
	return func(c *Cache) {
		c.onHit = onHit
		c.onMiss = onMiss
	}
}

// WithEvictionHook registers a callback invoked for each swept key.
func WithEvictionHook(fn func(key string)) CacheOption {
	return func(c *Cache) { c.onEvict = fn }
}

// NewCache creates a handle cache backed by the given client and starts
// its sweep goroutine.
func NewCache(client *Client, sweepInterval time.Duration, opts ...CacheOption) *Cache {
	c := &Cache{
		client:  client,
		entries: make(map[string]*cacheEntry),
		ttl:     DefaultTTL,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	go c.sweepLoop(sweepInterval)

	return c
}

// Resolve returns the cached handle for key, refreshing its idle clock.
// On a miss it looks the sandbox up remotely, caches the handle, and
// returns it. Lookup failures propagate to the caller and are not
// cached.
func (c *Cache) Resolve(ctx context.Context, key string) (*Handle, error) {
	c.mu.Lock()
	if entry, ok := c.entries[key]; ok {
		entry.lastAccessed = time.Now()
		h := entry.handle
		onHit := c.onHit
		c.mu.Unlock()
		if onHit != nil {
			onHit()
		}
		return h, nil
	}
	onMiss := c.onMiss
	c.mu.Unlock()
	if onMiss != nil {
		onMiss()
	}

	// Remote lookup outside the lock; concurrent misses for the same
	// key race to Register, which is last-writer-wins and harmless.
	h, err := c.client.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	c.Register(key, h)
	return h, nil
}

// Register inserts or replaces the entry for key. Used right after a
// sandbox is created so the next Resolve skips the remote round trip.
func (c *Cache) Register(key string, h *Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &cacheEntry{handle: h, lastAccessed: time.Now()}
}

// Invalidate removes the entry for key. It is idempotent.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stop terminates the sweep goroutine. The cache remains usable but no
// further evictions happen.
func (c *Cache) Stop() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

// Sweep removes all entries idle longer than the TTL and returns the
// evicted keys. It is called periodically by the sweep goroutine and
// directly by tests.
func (c *Cache) Sweep() []string {
	now := time.Now()

	c.mu.Lock()
	var evicted []string
	for key, entry := range c.entries {
		if now.Sub(entry.lastAccessed) > c.ttl {
			delete(c.entries, key)
			evicted = append(evicted, key)
		}
	}
	c.mu.Unlock()

	if len(evicted) > 0 {
		log.Printf("[cache] swept %d stale sandbox handles", len(evicted))
		if c.onEvict != nil {
			for _, key := range evicted {
				c.onEvict(key)
			}
		}
	}
	return evicted
}

func (c *Cache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-c.done:
			return
		}
	}
}
