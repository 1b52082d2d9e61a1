package services

import (
	"context"
	"sync"
	"time"

	"membership-api/pkg/logging"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/redis/go-redis/v9"
)

// DedupCache suppresses repeated side effects for the same event key within
// a window. It is advisory: a miss only costs a duplicate notification, so
// implementations swallow their own failures.
type DedupCache interface {
	SeenRecently(ctx context.Context, key string) bool
	Mark(ctx context.Context, key string)
}

// MemoryDedupCache is a process-local DedupCache with per-key TTL and a size
// bound. When the bound is exceeded expired keys go first, then the oldest.
type MemoryDedupCache struct {
	entries     *xsync.MapOf[string, time.Time]
	window      time.Duration
	maxEntries  int
	now         func() time.Time
	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// NewMemoryDedupCache creates an in-memory dedup cache.
func NewMemoryDedupCache(window time.Duration, maxEntries int) *MemoryDedupCache {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &MemoryDedupCache{
		entries:     xsync.NewMapOf[string, time.Time](),
		window:      window,
		maxEntries:  maxEntries,
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}
}

// SeenRecently reports whether key was marked within the window.
func (c *MemoryDedupCache) SeenRecently(_ context.Context, key string) bool {
	if key == "" {
		return false
	}
	seenAt, ok := c.entries.Load(key)
	if !ok {
		return false
	}
	return c.now().Sub(seenAt) <= c.window
}

// Mark records key as seen now, overwriting any earlier sighting.
func (c *MemoryDedupCache) Mark(_ context.Context, key string) {
	if key == "" {
		return
	}
	c.entries.Store(key, c.now())
	if c.entries.Size() > c.maxEntries {
		c.evict()
	}
}

// Len returns the number of tracked keys.
func (c *MemoryDedupCache) Len() int {
	return c.entries.Size()
}

func (c *MemoryDedupCache) evict() {
	removed := c.cleanup()

	for c.entries.Size() > c.maxEntries {
		var oldestKey string
		var oldestAt time.Time
		c.entries.Range(func(key string, seenAt time.Time) bool {
			if oldestKey == "" || seenAt.Before(oldestAt) {
				oldestKey, oldestAt = key, seenAt
			}
			return true
		})
		if oldestKey == "" {
			break
		}
		c.entries.Delete(oldestKey)
		removed++
	}

	logging.Debugf("Dedup cache evicted %d keys, remaining: %d", removed, c.entries.Size())
}

// cleanup drops keys older than the window and returns how many were removed.
func (c *MemoryDedupCache) cleanup() int {
	now := c.now()
	removed := 0
	c.entries.Range(func(key string, seenAt time.Time) bool {
		if now.Sub(seenAt) > c.window {
			c.entries.Delete(key)
			removed++
		}
		return true
	})
	return removed
}

// StartCleanupRoutine periodically drops expired keys until Stop is called.
func (c *MemoryDedupCache) StartCleanupRoutine(interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if removed := c.cleanup(); removed > 0 {
					logging.Debugf("Dedup cache cleanup: removed %d expired keys, remaining: %d", removed, c.entries.Size())
				}
			case <-c.stopCleanup:
				return
			}
		}
	}()
}

// Stop stops the cleanup routine. It is safe to call more than once.
func (c *MemoryDedupCache) Stop() {
	c.stopOnce.Do(func() { close(c.stopCleanup) })
}

// GetStats returns cache statistics
func (c *MemoryDedupCache) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"tracked_keys": c.entries.Size(),
		"max_entries":  c.maxEntries,
		"window":       c.window.String(),
	}
}

// RedisDedupCache shares the dedup window between processes. Each key
// expires on its own through the Redis TTL.
type RedisDedupCache struct {
	client *redis.Client
	window time.Duration
}

// NewRedisDedupCache creates a Redis-backed dedup cache.
func NewRedisDedupCache(client *redis.Client, window time.Duration) *RedisDedupCache {
	return &RedisDedupCache{client: client, window: window}
}

func redisDedupKey(key string) string {
	return "webhook_dedup:" + key
}

// SeenRecently reports whether key is still present in Redis.
func (c *RedisDedupCache) SeenRecently(ctx context.Context, key string) bool {
	if key == "" {
		return false
	}
	exists, err := c.client.Exists(ctx, redisDedupKey(key)).Result()
	if err != nil {
		logging.Warnf("Dedup lookup failed for %s, treating as unseen: %v", key, err)
		return false
	}
	return exists > 0
}

// Mark stores key with the window as its TTL.
func (c *RedisDedupCache) Mark(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := c.client.Set(ctx, redisDedupKey(key), time.Now().Unix(), c.window).Err(); err != nil {
		logging.Warnf("Dedup mark failed for %s: %v", key, err)
	}
}
