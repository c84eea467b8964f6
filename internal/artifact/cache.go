package artifact

import (
	"container/list"
	"os"
	"sync"
)

// DownloadCache is an LRU index over files fetched by a Mirror. Entries
// are keyed by version and object path; when the total size exceeds the
// budget the least recently used files are deleted. The most recent entry
// is never evicted.
type DownloadCache struct {
	mu       sync.Mutex
	maxBytes int64
	curBytes int64

	// items maps key → list element (whose value is *cacheEntry)
	items map[string]*list.Element
	order *list.List // front = most recently used
}

type cacheEntry struct {
	key       string
	localPath string
	sizeBytes int64
}

// NewDownloadCache creates a new LRU download cache.
// maxBytes is the maximum total size of cached files (default 4GB).
func NewDownloadCache(maxBytes int64) *DownloadCache {
	if maxBytes <= 0 {
		maxBytes = 4 << 30
	}
	return &DownloadCache{
		maxBytes: maxBytes,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Get returns the local path cached under key, or "" if not cached.
// On hit, the entry is promoted to most-recently-used.
func (c *DownloadCache) Get(key string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return ""
	}

	entry := elem.Value.(*cacheEntry)

	// File gone or rewritten behind our back
	info, err := os.Stat(entry.localPath)
	if err != nil || info.Size() != entry.sizeBytes {
		c.removeLocked(elem)
		return ""
	}

	c.order.MoveToFront(elem)
	return entry.localPath
}

// Put records a downloaded file in the cache and evicts LRU entries while
// the budget is exceeded.
func (c *DownloadCache) Put(key, localPath string) {
	info, err := os.Stat(localPath)
	if err != nil {
		return
	}
	sizeBytes := info.Size()

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		old := elem.Value.(*cacheEntry)
		c.curBytes -= old.sizeBytes
		old.localPath = localPath
		old.sizeBytes = sizeBytes
		c.curBytes += sizeBytes
		c.order.MoveToFront(elem)
	} else {
		elem := c.order.PushFront(&cacheEntry{
			key:       key,
			localPath: localPath,
			sizeBytes: sizeBytes,
		})
		c.items[key] = elem
		c.curBytes += sizeBytes
	}

	for c.curBytes > c.maxBytes && c.order.Len() > 1 {
		c.removeLocked(c.order.Back())
	}
}

// removeLocked removes an element and deletes its file.
// Caller must hold c.mu.
func (c *DownloadCache) removeLocked(elem *list.Element) {
	entry := elem.Value.(*cacheEntry)
	c.order.Remove(elem)
	delete(c.items, entry.key)
	c.curBytes -= entry.sizeBytes

	os.Remove(entry.localPath)
}

// Size returns the current total cached size in bytes.
func (c *DownloadCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.curBytes
}

// Len returns the number of cached entries.
func (c *DownloadCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
