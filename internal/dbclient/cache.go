package dbclient

import (
	"container/list"
	"sync"
)

// uuidCache remembers the natural-key -> UUID mapping CreateWithRetry
// has already resolved, so a second create of the same named object
// (a repeat test iteration re-creating a namespace's port group, say)
// skips straight to the cached UUID instead of round-tripping a
// select. Bounded by entry count with LRU eviction, the same shape as
// the teacher's byte-weighted cache with the weight dropped since
// every entry here is one small string.
type uuidCache struct {
	mu        sync.Mutex
	capacity  int
	items     map[string]*list.Element
	evictList *list.List
}

type uuidCacheEntry struct {
	key  string
	uuid string
}

func newUUIDCache(capacity int) *uuidCache {
	if capacity <= 0 {
		capacity = 10000
	}
	return &uuidCache{
		capacity:  capacity,
		items:     make(map[string]*list.Element),
		evictList: list.New(),
	}
}

func cacheKey(table, naturalKey string) string { return table + "\x00" + naturalKey }

func (c *uuidCache) get(table, naturalKey string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(table, naturalKey)
	el, ok := c.items[key]
	if !ok {
		return "", false
	}
	c.evictList.MoveToFront(el)
	return el.Value.(*uuidCacheEntry).uuid, true
}

func (c *uuidCache) set(table, naturalKey, uuid string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(table, naturalKey)
	if el, ok := c.items[key]; ok {
		el.Value.(*uuidCacheEntry).uuid = uuid
		c.evictList.MoveToFront(el)
		return
	}

	el := c.evictList.PushFront(&uuidCacheEntry{key: key, uuid: uuid})
	c.items[key] = el

	for c.evictList.Len() > c.capacity {
		oldest := c.evictList.Back()
		if oldest == nil {
			break
		}
		c.evictList.Remove(oldest)
		delete(c.items, oldest.Value.(*uuidCacheEntry).key)
	}
}

func (c *uuidCache) invalidate(table, naturalKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(table, naturalKey)
	if el, ok := c.items[key]; ok {
		c.evictList.Remove(el)
		delete(c.items, key)
	}
}
