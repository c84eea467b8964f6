package schema

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mtgsql/mtgsql/pkg/types"
)

// anyRelation keys the column-only entry used by Lookup.
const anyRelation = "*"

type shapeKey struct {
	version  string
	relation string
	column   string
}

// ShapeCacheMetrics holds cache statistics.
type ShapeCacheMetrics struct {
	Hits   int64
	Misses int64
}

// ShapeCache memoises verdicts per (artifact version, relation, column).
// A refresh changes the version, so stale entries are never hit; Purge
// drops them early.
type ShapeCache struct {
	entries *lru.Cache[shapeKey, types.ColumnShape]

	mu      sync.Mutex
	metrics ShapeCacheMetrics
}

// NewShapeCache creates a cache holding at most size entries.
func NewShapeCache(size int) (*ShapeCache, error) {
	if size <= 0 {
		size = 4096
	}
	c, err := lru.New[shapeKey, types.ColumnShape](size)
	if err != nil {
		return nil, err
	}
	return &ShapeCache{entries: c}, nil
}

// Store records every verdict of a classification. The column-only entry
// becomes ARRAY if any relation classified the column as an array.
func (c *ShapeCache) Store(version string, cl Classification) {
	for _, v := range cl.Verdicts {
		c.entries.Add(shapeKey{version, cl.Relation, v.Column}, v.Shape)

		ck := shapeKey{version, anyRelation, v.Column}
		if prev, ok := c.entries.Peek(ck); ok && prev == types.ShapeArray {
			continue
		}
		c.entries.Add(ck, v.Shape)
	}
}

// Get returns the verdict for column in relation.
func (c *ShapeCache) Get(version, relation, column string) (types.ColumnShape, bool) {
	shape, ok := c.entries.Get(shapeKey{version, relation, column})
	c.record(ok)
	return shape, ok
}

// Lookup returns the verdict for column regardless of relation.
func (c *ShapeCache) Lookup(version, column string) (types.ColumnShape, bool) {
	return c.Get(version, anyRelation, column)
}

// Purge drops every entry.
func (c *ShapeCache) Purge() {
	c.entries.Purge()
}

// Len returns the number of cached entries.
func (c *ShapeCache) Len() int {
	return c.entries.Len()
}

// Metrics returns hit/miss counters.
func (c *ShapeCache) Metrics() ShapeCacheMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

func (c *ShapeCache) record(hit bool) {
	c.mu.Lock()
	if hit {
		c.metrics.Hits++
	} else {
		c.metrics.Misses++
	}
	c.mu.Unlock()
}
