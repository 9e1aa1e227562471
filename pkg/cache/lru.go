package cache

import (
	"container/list"
	"sync"
	"time"
)

// LRU is a bounded in-memory cache with TTL support. Entries are evicted
// when capacity is exceeded (least recently used first) or when their TTL
// elapses, whichever comes first. Lookups never fail, they only miss.
type LRU struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	order    *list.List // front = most recently used
	items    map[string]*list.Element
}

type lruEntry struct {
	key       string
	value     interface{}
	expiresAt time.Time
}

// NewLRU creates a cache holding at most capacity entries, each living for
// defaultTTL unless overridden per Set
func NewLRU(capacity int, defaultTTL time.Duration) *LRU {
	if capacity < 1 {
		capacity = 1
	}
	return &LRU{
		capacity: capacity,
		ttl:      defaultTTL,
		order:    list.New(),
		items:    make(map[string]*list.Element),
	}
}

// Set stores a value, evicting the least recently used entry when full.
// A zero ttl uses the cache default.
func (c *LRU) Set(key string, value interface{}, ttl time.Duration) {
	if ttl == 0 {
		ttl = c.ttl
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*lruEntry)
		entry.value = value
		entry.expiresAt = time.Now().Add(ttl)
		c.order.MoveToFront(elem)
		return
	}

	if c.order.Len() >= c.capacity {
		c.evictOldest()
	}

	elem := c.order.PushFront(&lruEntry{
		key:       key,
		value:     value,
		expiresAt: time.Now().Add(ttl),
	})
	c.items[key] = elem
}

// Get retrieves a value, refreshing its recency. Expired entries miss and
// are dropped on the spot.
func (c *LRU) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil, false
	}

	entry := elem.Value.(*lruEntry)
	if time.Now().After(entry.expiresAt) {
		c.removeElement(elem)
		return nil, false
	}

	c.order.MoveToFront(elem)
	return entry.value, true
}

// Delete removes a value from the cache
func (c *LRU) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
}

// Len returns the current number of entries in the cache
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Purge removes all entries from the cache
func (c *LRU) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order.Init()
	c.items = make(map[string]*list.Element)
}

// RemoveExpired drops every expired entry and reports how many were removed
func (c *LRU) RemoveExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for elem := c.order.Back(); elem != nil; {
		prev := elem.Prev()
		if now.After(elem.Value.(*lruEntry).expiresAt) {
			c.removeElement(elem)
			removed++
		}
		elem = prev
	}
	return removed
}

// StartCleanup starts a goroutine that periodically drops expired entries.
// Returns a stop function that cancels the cleanup goroutine.
func (c *LRU) StartCleanup(interval time.Duration) func() {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.RemoveExpired()
			case <-stop:
				return
			}
		}
	}()
	return func() { close(stop) }
}

// caller must hold c.mu
func (c *LRU) evictOldest() {
	if elem := c.order.Back(); elem != nil {
		c.removeElement(elem)
	}
}

// caller must hold c.mu
func (c *LRU) removeElement(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.items, elem.Value.(*lruEntry).key)
}
