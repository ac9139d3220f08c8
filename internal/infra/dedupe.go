package infra

import (
	"sync"
	"time"
)

// IdempotencyCache records message keys that have already been accepted.
// A key is remembered for the configured TTL; a second accept within the
// window is reported as already seen so the caller can skip dispatch.
type IdempotencyCache struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration
	maxSize int
	stop    chan struct{}
	once    sync.Once

	now func() time.Time
}

// IdempotencyCacheConfig configures an IdempotencyCache.
type IdempotencyCacheConfig struct {
	// TTL is how long keys remain remembered. Default: 24 hours.
	TTL time.Duration

	// MaxSize bounds the number of tracked keys. 0 = unlimited. When the
	// bound is hit the oldest entry is evicted.
	MaxSize int

	// CleanupInterval is how often expired keys are swept.
	// 0 = no background sweep (expired keys still never report as seen).
	CleanupInterval time.Duration
}

// NewIdempotencyCache creates an idempotency cache.
func NewIdempotencyCache(cfg IdempotencyCacheConfig) *IdempotencyCache {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	c := &IdempotencyCache{
		entries: make(map[string]time.Time),
		ttl:     cfg.TTL,
		maxSize: cfg.MaxSize,
		stop:    make(chan struct{}),
		now:     time.Now,
	}
	if cfg.CleanupInterval > 0 {
		go c.sweepLoop(cfg.CleanupInterval)
	}
	return c
}

// SetIfAbsent records the key and reports true if it was not already
// present within the TTL. This is the set-if-absent accept decision: a
// false return means a duplicate.
func (c *IdempotencyCache) SetIfAbsent(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if expires, ok := c.entries[key]; ok && now.Before(expires) {
		return false
	}
	if c.maxSize > 0 && len(c.entries) >= c.maxSize {
		c.evictOldest()
	}
	c.entries[key] = now.Add(c.ttl)
	return true
}

// Len returns the number of tracked keys, including expired ones not yet
// swept.
func (c *IdempotencyCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close stops the background sweeper.
func (c *IdempotencyCache) Close() {
	c.once.Do(func() { close(c.stop) })
}

// evictOldest must be called with the mutex held.
func (c *IdempotencyCache) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for k, exp := range c.entries {
		if oldestKey == "" || exp.Before(oldest) {
			oldestKey = k
			oldest = exp
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

func (c *IdempotencyCache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *IdempotencyCache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, exp := range c.entries {
		if !now.Before(exp) {
			delete(c.entries, k)
		}
	}
}
