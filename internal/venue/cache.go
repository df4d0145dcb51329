package venue

import (
	"container/list"
	"sync"
	"time"
)

type cacheEntry struct {
	key        string
	value      Result
	insertedAt time.Time
}

// Cache memoizes resolver results. It is bounded by entry count and TTL;
// expired entries are dropped lazily on Get and overflow evicts the oldest insert.
type Cache struct {
	mu         sync.Mutex
	maxEntries int
	ttl        time.Duration
	order      *list.List // front is oldest
	items      map[string]*list.Element
	now        func() time.Time
}

// NewCache creates a cache; non-positive limits disable that bound
func NewCache(maxEntries int, ttl time.Duration) *Cache {
	return &Cache{
		maxEntries: maxEntries,
		ttl:        ttl,
		order:      list.New(),
		items:      make(map[string]*list.Element),
		now:        time.Now,
	}
}

// Get returns a copy of the cached result for key
func (c *Cache) Get(key string) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return Result{}, false
	}
	entry := elem.Value.(*cacheEntry)
	if c.ttl > 0 && c.now().Sub(entry.insertedAt) >= c.ttl {
		c.remove(elem)
		return Result{}, false
	}
	return entry.value, true
}

// Set stores value under key. Re-setting a key refreshes its insertion time.
func (c *Cache) Set(key string, value Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.value = value
		entry.insertedAt = c.now()
		c.order.MoveToBack(elem)
		return
	}

	c.items[key] = c.order.PushBack(&cacheEntry{key: key, value: value, insertedAt: c.now()})

	for c.maxEntries > 0 && c.order.Len() > c.maxEntries {
		c.remove(c.order.Front())
	}
}

// Len returns the number of stored entries, including expired ones not yet evicted
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Purge drops every entry
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = make(map[string]*list.Element)
}

func (c *Cache) remove(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.items, elem.Value.(*cacheEntry).key)
}
