package cache

import (
	"container/list"
	"expvar"
	"sync"
)

type entry[V any] struct {
	key   string
	value V
}

// LRUCache is a fixed-capacity least-recently-used cache. A capacity of
// zero or less disables it: Put is a no-op and Get always misses.
type LRUCache[V any] struct {
	mu        sync.Mutex
	capacity  int
	lruList   *list.List
	items     map[string]*list.Element
	onEvicted func(key string, value V)

	hits   *expvar.Int
	misses *expvar.Int
}

// NewLRUCache creates a cache holding at most capacity entries. onEvicted,
// if set, is called for every entry dropped by eviction, Remove or Clear.
func NewLRUCache[V any](capacity int, onEvicted func(key string, value V)) *LRUCache[V] {
	if capacity < 0 {
		capacity = 0
	}
	return &LRUCache[V]{
		capacity:  capacity,
		lruList:   list.New(),
		items:     make(map[string]*list.Element),
		onEvicted: onEvicted,
	}
}

// SetMetrics attaches hit and miss counters. Either may be nil.
func (c *LRUCache[V]) SetMetrics(hits, misses *expvar.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hits = hits
	c.misses = misses
}

// Get retrieves a value and marks it as most recently used.
func (c *LRUCache[V]) Get(key string) (value V, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capacity == 0 {
		return value, false
	}
	if elem, found := c.items[key]; found {
		if c.hits != nil {
			c.hits.Add(1)
		}
		c.lruList.MoveToFront(elem)
		return elem.Value.(*entry[V]).value, true
	}
	if c.misses != nil {
		c.misses.Add(1)
	}
	return value, false
}

// Put adds or replaces a value, evicting the least recently used entry when
// the cache is full.
func (c *LRUCache[V]) Put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capacity == 0 {
		return
	}
	if elem, found := c.items[key]; found {
		c.lruList.MoveToFront(elem)
		elem.Value.(*entry[V]).value = value
		return
	}
	if c.lruList.Len() >= c.capacity {
		c.evict()
	}
	c.items[key] = c.lruList.PushFront(&entry[V]{key: key, value: value})
}

// Remove drops key from the cache and reports whether it was present.
func (c *LRUCache[V]) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, found := c.items[key]
	if !found {
		return false
	}
	c.removeElement(elem)
	return true
}

// RemoveFunc drops every entry whose key satisfies match and returns how
// many were removed.
func (c *LRUCache[V]) RemoveFunc(match func(key string) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for key, elem := range c.items {
		if match(key) {
			c.removeElement(elem)
			n++
		}
	}
	return n
}

func (c *LRUCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lruList.Len()
}

// Must be called with c.mu held.
func (c *LRUCache[V]) evict() {
	if elem := c.lruList.Back(); elem != nil {
		c.removeElement(elem)
	}
}

// Must be called with c.mu held.
func (c *LRUCache[V]) removeElement(elem *list.Element) {
	e := c.lruList.Remove(elem).(*entry[V])
	delete(c.items, e.key)
	if c.onEvicted != nil {
		c.onEvicted(e.key, e.value)
	}
}

// Clear removes all entries and resets the attached counters.
func (c *LRUCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.onEvicted != nil {
		for _, elem := range c.items {
			e := elem.Value.(*entry[V])
			c.onEvicted(e.key, e.value)
		}
	}
	c.lruList = list.New()
	c.items = make(map[string]*list.Element)
	if c.hits != nil {
		c.hits.Set(0)
	}
	if c.misses != nil {
		c.misses.Set(0)
	}
}

// HitRate is hits / (hits + misses) over the attached counters.
func (c *LRUCache[V]) HitRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	var hits, misses float64
	if c.hits != nil {
		hits = float64(c.hits.Value())
	}
	if c.misses != nil {
		misses = float64(c.misses.Value())
	}
	if hits+misses == 0 {
		return 0
	}
	return hits / (hits + misses)
}
