// Package bloom provides a Bloom filter used to spot repeated keys in a
// stream without keeping every key in memory.
package bloom

import (
	"math"
	"sync"

	"github.com/spaolacci/murmur3"
)

// Filter answers "seen before?" with no false negatives and a bounded
// false positive rate.
type Filter struct {
	mu        sync.Mutex
	bits      []uint64
	numBits   uint64
	numHashes uint64
	count     uint64 // items added
	repeats   uint64 // TestAndAdd hits
}

// New creates a filter with numBits bits (rounded up to a multiple of 64)
// and numHashes hash functions.
func New(numBits, numHashes int) *Filter {
	if numBits <= 0 {
		numBits = 1024
	}
	if numHashes <= 0 {
		numHashes = 7
	}

	numWords := (numBits + 63) / 64
	return &Filter{
		bits:      make([]uint64, numWords),
		numBits:   uint64(numWords * 64),
		numHashes: uint64(numHashes),
	}
}

// NewWithEstimates sizes a filter for expectedItems at targetFPR.
func NewWithEstimates(expectedItems uint64, targetFPR float64) *Filter {
	numBits, numHashes := OptimalParameters(expectedItems, targetFPR)
	return New(numBits, numHashes)
}

// OptimalParameters returns bits and hash count for n items at rate p:
//   - m = -n * ln(p) / (ln(2)^2)
//   - k = (m/n) * ln(2)
func OptimalParameters(expectedItems uint64, targetFPR float64) (numBits, numHashes int) {
	if expectedItems == 0 {
		expectedItems = 1000
	}
	if targetFPR <= 0 || targetFPR >= 1 {
		targetFPR = 0.01
	}

	n := float64(expectedItems)
	m := -n * math.Log(targetFPR) / (math.Ln2 * math.Ln2)
	k := (m / n) * math.Ln2

	numBits = int(math.Ceil(m))
	numHashes = int(math.Ceil(k))
	if numBits < 64 {
		numBits = 64
	}
	if numHashes < 1 {
		numHashes = 1
	}
	return numBits, numHashes
}

// Add records item.
func (f *Filter) Add(item []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.add(item)
}

// Contains reports whether item may have been added.
func (f *Filter) Contains(item []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.contains(item)
}

// TestAndAdd records item and reports whether it may have been added
// before. A false result is certain: the item is new.
func (f *Filter) TestAndAdd(item []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := f.contains(item)
	if seen {
		f.repeats++
	}
	f.add(item)
	return seen
}

// TestAndAddString is TestAndAdd for string keys.
func (f *Filter) TestAndAddString(item string) bool {
	return f.TestAndAdd([]byte(item))
}

func (f *Filter) add(item []byte) {
	h1, h2 := murmur3.Sum128(item)
	for i := uint64(0); i < f.numHashes; i++ {
		// double hashing: h(i) = h1 + i*h2
		f.setBit((h1 + i*h2) % f.numBits)
	}
	f.count++
}

func (f *Filter) contains(item []byte) bool {
	h1, h2 := murmur3.Sum128(item)
	for i := uint64(0); i < f.numHashes; i++ {
		if !f.getBit((h1 + i*h2) % f.numBits) {
			return false
		}
	}
	return true
}

func (f *Filter) setBit(pos uint64) {
	f.bits[pos/64] |= 1 << (pos % 64)
}

func (f *Filter) getBit(pos uint64) bool {
	return f.bits[pos/64]&(1<<(pos%64)) != 0
}

// NumBits returns the number of bits in the filter.
func (f *Filter) NumBits() int {
	return int(f.numBits)
}

// NumHashes returns the number of hash functions used.
func (f *Filter) NumHashes() int {
	return int(f.numHashes)
}

// Count returns the number of items added.
func (f *Filter) Count() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

// Repeats returns how many TestAndAdd calls reported a possible repeat.
func (f *Filter) Repeats() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.repeats
}

// FalsePositiveRate estimates the current false positive rate,
// (1 - e^(-k*n/m))^k.
func (f *Filter) FalsePositiveRate() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.count == 0 {
		return 0
	}
	k := float64(f.numHashes)
	n := float64(f.count)
	m := float64(f.numBits)
	return math.Pow(1-math.Exp(-k*n/m), k)
}
