package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtgsql/mtgsql/pkg/types"
)

func TestShapeCache_StoreAndLookup(t *testing.T) {
	c, err := NewShapeCache(64)
	require.NoError(t, err)

	cards := Classify("cards", varchar("availability", "name"), DefaultRules("cards"))
	sets := Classify("sets", varchar("availability"), NewRules(nil, []string{"availability"}, nil))
	c.Store("v1", cards)
	c.Store("v1", sets)

	shape, ok := c.Get("v1", "sets", "availability")
	require.True(t, ok)
	assert.Equal(t, types.ShapeScalar, shape)

	// column-only lookups report ARRAY if any relation says so
	shape, ok = c.Lookup("v1", "availability")
	require.True(t, ok)
	assert.Equal(t, types.ShapeArray, shape)

	_, ok = c.Lookup("v2", "availability")
	assert.False(t, ok, "a new artifact version must miss")

	m := c.Metrics()
	assert.Equal(t, int64(2), m.Hits)
	assert.Equal(t, int64(1), m.Misses)

	c.Purge()
	assert.Equal(t, 0, c.Len())
}

func TestShapeCache_Eviction(t *testing.T) {
	c, err := NewShapeCache(2)
	require.NoError(t, err)
	c.Store("v1", Classify("cards", varchar("a", "b", "c"), DefaultRules("cards")))
	assert.Equal(t, 2, c.Len())
}
