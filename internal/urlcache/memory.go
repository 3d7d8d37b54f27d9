package urlcache

import (
	"context"
	"sync"
	"time"
)

// memItem stores a resolved URL together with its expiry time.
type memItem struct {
	finalURL  string
	expiresAt time.Time
}

// Memory is an in-process Cache with per-entry TTL.
//
// It is safe for concurrent use. A background goroutine periodically removes
// expired entries to prevent unbounded growth. Use Redis in multi-replica
// deployments so replicas share resolutions.
type Memory struct {
	mu    sync.RWMutex
	items map[string]memItem

	done chan struct{}
}

// NewMemory creates a Memory cache and starts the background cleanup loop.
// The cleanup goroutine stops when ctx is cancelled or Close is called.
func NewMemory(ctx context.Context) *Memory {
	c := &Memory{
		items: make(map[string]memItem),
		done:  make(chan struct{}),
	}
	go c.cleanup(ctx)
	return c
}

// Get returns the resolved URL for rawURL. Expired entries are removed lazily
// on access.
func (c *Memory) Get(_ context.Context, rawURL string) (string, bool) {
	k := key(rawURL)

	c.mu.RLock()
	item, ok := c.items[k]
	c.mu.RUnlock()

	if !ok {
		return "", false
	}

	if time.Now().After(item.expiresAt) {
		c.mu.Lock()
		delete(c.items, k)
		c.mu.Unlock()
		return "", false
	}

	return item.finalURL, true
}

// Set stores the resolved URL for the duration of ttl.
func (c *Memory) Set(_ context.Context, rawURL, finalURL string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	c.mu.Lock()
	c.items[key(rawURL)] = memItem{
		finalURL:  finalURL,
		expiresAt: time.Now().Add(ttl),
	}
	c.mu.Unlock()
}

// Len returns the number of entries currently held (including expired entries
// not yet evicted).
func (c *Memory) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Close stops the background cleanup goroutine.
func (c *Memory) Close() error {
	close(c.done)
	return nil
}

// cleanup runs every 5 minutes and evicts all expired entries.
func (c *Memory) cleanup(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.evictExpired()
		case <-ctx.Done():
			return
		case <-c.done:
			return
		}
	}
}

func (c *Memory) evictExpired() {
	now := time.Now()

	c.mu.Lock()
	for k, v := range c.items {
		if now.After(v.expiresAt) {
			delete(c.items, k)
		}
	}
	c.mu.Unlock()
}
