package bloom

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestOptimalParameters(t *testing.T) {
	bits, hashes := OptimalParameters(1000, 0.01)
	assert.Equal(t, 9586, bits)
	assert.Equal(t, 7, hashes)

	bits, hashes = OptimalParameters(0, 2)
	assert.Equal(t, 9586, bits, "zero values fall back to defaults")
	assert.Equal(t, 7, hashes)
}

func TestTestAndAdd(t *testing.T) {
	f := NewWithEstimates(1000, 0.001)
	assert.False(t, f.TestAndAddString("card-1"))
	assert.False(t, f.TestAndAddString("card-2"))
	assert.True(t, f.TestAndAddString("card-1"))
	assert.Equal(t, uint64(3), f.Count())
	assert.Equal(t, uint64(1), f.Repeats())
}

func TestFalsePositiveRate(t *testing.T) {
	f := NewWithEstimates(10000, 0.01)
	assert.Equal(t, 0.0, f.FalsePositiveRate())
	for i := 0; i < 10000; i++ {
		f.Add([]byte(fmt.Sprintf("uuid-%d", i)))
	}
	assert.InDelta(t, 0.01, f.FalsePositiveRate(), 0.005)

	fp := 0
	for i := 0; i < 10000; i++ {
		if f.Contains([]byte(fmt.Sprintf("other-%d", i))) {
			fp++
		}
	}
	assert.Less(t, fp, 300)
}

func TestNoFalseNegatives(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("added items are always found", prop.ForAll(
		func(items []string) bool {
			f := NewWithEstimates(uint64(len(items)+1), 0.01)
			for _, it := range items {
				f.Add([]byte(it))
			}
			for _, it := range items {
				if !f.Contains([]byte(it)) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
