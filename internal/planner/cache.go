package planner

import (
	"container/list"
	"sync"

	"github.com/c2h5oh/datasize"
)

// cacheEntrySize is the flat per-entry cost this reference implementation
// charges against PlanCacheMemoryBudget. A real catalog would size the
// actual shape (branch count, index name length); a fixed charge keeps this
// component's job — eviction ordering and the hit/miss-driven staleness
// check — exercised without needing a precise shape sizer.
const cacheEntrySize = 256

type cacheEntry struct {
	key    CacheKey
	shape  PlanShape
	misses int
}

// Cache is the size-tracked LRU plan cache keyed by CacheKey: the
// QueryPattern extended with sort and projection shape, evicted
// least-recently-used once the memory budget
// is exceeded, and evicted early if one entry racks up
// PlanCacheEvictAfterMisses consecutive misses (a proxy for "a write
// significantly changed this shape's cardinality estimate").
type Cache struct {
	mu         sync.Mutex
	budget     uint64
	evictAfter int
	used       uint64
	ll         *list.List
	index      map[CacheKey]*list.Element
}

// NewCache builds an empty Cache sized per budget and evictAfter.
func NewCache(budget datasize.ByteSize, evictAfter int) *Cache {
	return &Cache{
		budget:     uint64(budget),
		evictAfter: evictAfter,
		ll:         list.New(),
		index:      make(map[CacheKey]*list.Element),
	}
}

// Get returns the cached shape for key, if any, promoting it to
// most-recently-used.
func (c *Cache) Get(key CacheKey) (PlanShape, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.index[key]
	if !ok {
		return PlanShape{}, false
	}
	c.ll.MoveToFront(el)
	entry := el.Value.(*cacheEntry)
	entry.misses = 0
	return entry.shape, true
}

// Miss records a cache hit that the planner chose not to trust (e.g. the
// cached plan underperformed a fresh trial), evicting the entry once it has
// missed evictAfter times in a row.
func (c *Cache) Miss(key CacheKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.index[key]
	if !ok {
		return
	}
	entry := el.Value.(*cacheEntry)
	entry.misses++
	if entry.misses >= c.evictAfter {
		c.removeElement(el)
	}
}

// Put inserts or refreshes shape under key, evicting least-recently-used
// entries until the size budget is satisfied.
func (c *Cache) Put(key CacheKey, shape PlanShape) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.index[key]; ok {
		el.Value.(*cacheEntry).shape = shape
		el.Value.(*cacheEntry).misses = 0
		c.ll.MoveToFront(el)
		return
	}

	el := c.ll.PushFront(&cacheEntry{key: key, shape: shape})
	c.index[key] = el
	c.used += cacheEntrySize

	for c.used > c.budget && c.ll.Len() > 1 {
		c.removeElement(c.ll.Back())
	}
}

// Invalidate drops every cached entry for collection — // invalidation triggers (index creation/drop, collection rename/drop).
func (c *Cache) Invalidate(collection string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, el := range c.index {
		if key.Collection == collection {
			c.removeElement(el)
		}
	}
}

func (c *Cache) removeElement(el *list.Element) {
	c.ll.Remove(el)
	entry := el.Value.(*cacheEntry)
	delete(c.index, entry.key)
	c.used -= cacheEntrySize
}

// Len reports the number of cached entries, for tests.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}
