// ABOUTME: TTL and size bounded set of recently delivered push message keys
// ABOUTME: Used by the push channel to drop frames redelivered after reconnect

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// cleanupInterval is how often expired keys are swept.
const cleanupInterval = time.Minute

// FrameKey builds the cache key for a message delivered in a room.
func FrameKey(conversationID, messageID string) string {
	return conversationID + "|" + messageID
}

type entry struct {
	seenAt  time.Time
	element *list.Element
}

// Cache is a thread-safe set of keys that expire after a TTL. When full, the
// least recently observed key is evicted.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a cache and starts its background sweeper.
func New(ttl time.Duration, maxSize int) *Cache {
	return newWithClock(ttl, maxSize, time.Now)
}

func newWithClock(ttl time.Duration, maxSize int, now func() time.Time) *Cache {
	if maxSize <= 0 {
		maxSize = 1
	}
	c := &Cache{
		entries: make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     now,
		done:    make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Seen reports whether key was observed within the TTL.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	return ok && c.now().Sub(e.seenAt) < c.ttl
}

// Observe records key and reports whether it was already present, i.e.
// whether the caller holds a duplicate.
func (c *Cache) Observe(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.entries[key]; ok {
		dup := now.Sub(e.seenAt) < c.ttl
		e.seenAt = now
		c.order.MoveToBack(e.element)
		return dup
	}

	if len(c.entries) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			c.order.Remove(front)
			delete(c.entries, front.Value.(string))
		}
	}

	c.entries[key] = &entry{seenAt: now, element: c.order.PushBack(key)}
	return false
}

// Len returns the number of tracked keys, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

// sweep drops expired keys.
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, e := range c.entries {
		if now.Sub(e.seenAt) >= c.ttl {
			c.order.Remove(e.element)
			delete(c.entries, key)
		}
	}
}

// Close stops the sweeper. Safe to call more than once.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
