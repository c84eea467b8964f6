package transform

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/mtgsql/mtgsql/internal/bloom"
	"github.com/mtgsql/mtgsql/internal/errors"
	"github.com/mtgsql/mtgsql/pkg/types"
)

const dateLayout = "2006-01-02"

// PriceOptions configures a PriceStream.
type PriceOptions struct {
	// View names the relation being built, for error context
	View string

	// Sources are path segments recognised as the price source
	Sources []string

	// PriceTypes are path segments recognised as the price type
	PriceTypes []string

	// ExpectedEntities sizes the repeated-entity filter
	ExpectedEntities uint64

	// BufferSize is the reader buffer in bytes
	BufferSize int
}

// DefaultPriceOptions returns the levels used by the upstream price files.
func DefaultPriceOptions(view string) PriceOptions {
	return PriceOptions{
		View:             view,
		Sources:          []string{"paper", "mtgo"},
		PriceTypes:       []string{"retail", "buylist"},
		ExpectedEntities: 120000,
		BufferSize:       64 * 1024,
	}
}

// PriceStats counts what a stream has produced so far.
type PriceStats struct {
	Entities         int64
	Records          int64
	NullPrices       int64
	NonPositive      int64
	Duplicates       int64
	RepeatedEntities uint64
}

// PriceStream flattens an entity -> ... -> finish -> date -> price tree
// into PriceRecords. Input is either a bare map of entities or an envelope
// {"meta": ..., "data": {entities}}. Only one entity's subtree is decoded
// at a time.
//
// The levels between the entity and the date map may vary per provider.
// The key directly above the date map is the finish. Segments listed in
// Sources or PriceTypes fill those fields; the first other segment is the
// provider and any further ones are appended to it with a dot. A string
// "currency" attribute applies to its whole subtree.
type PriceStream struct {
	opts       PriceOptions
	iter       *jsoniter.Iterator
	sources    map[string]struct{}
	priceTypes map[string]struct{}
	entities   *bloom.Filter

	started bool
	inData  bool
	done    bool

	pending []types.PriceRecord
	err     error
	stats   PriceStats
}

// NewPriceStream reads price trees from r.
func NewPriceStream(r io.Reader, opts PriceOptions) *PriceStream {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 64 * 1024
	}
	return &PriceStream{
		opts:       opts,
		iter:       jsoniter.Parse(jsoniter.ConfigCompatibleWithStandardLibrary, r, opts.BufferSize),
		sources:    toSet(opts.Sources),
		priceTypes: toSet(opts.PriceTypes),
		entities:   bloom.NewWithEstimates(opts.ExpectedEntities, 0.001),
	}
}

// Next returns the next record. It returns false at the end of input or on
// the first error; check Err afterwards.
func (s *PriceStream) Next() (types.PriceRecord, bool) {
	for len(s.pending) == 0 {
		if s.done || s.err != nil {
			return types.PriceRecord{}, false
		}
		id, tree, ok := s.nextEntity()
		if !ok {
			return types.PriceRecord{}, false
		}
		if err := s.flattenEntity(id, tree); err != nil {
			s.err = err
			s.pending = nil
			return types.PriceRecord{}, false
		}
	}
	rec := s.pending[0]
	s.pending = s.pending[1:]
	s.stats.Records++
	return rec, true
}

// Err returns the first error encountered.
func (s *PriceStream) Err() error {
	return s.err
}

// Stats returns counters for the records produced so far.
func (s *PriceStream) Stats() PriceStats {
	st := s.stats
	st.RepeatedEntities = s.entities.Repeats()
	return st
}

// nextEntity advances the iterator to the next entity subtree.
func (s *PriceStream) nextEntity() (string, interface{}, bool) {
	if !s.started {
		s.started = true
		if s.iter.WhatIsNext() != jsoniter.ObjectValue {
			s.fail("price document must be a JSON object", nil)
			return "", nil, false
		}
	}

	for {
		key := s.iter.ReadObject()
		if err := s.iterError(); err != nil {
			s.fail("malformed price document", err)
			return "", nil, false
		}

		if key == "" {
			if s.inData {
				s.inData = false
				continue
			}
			s.done = true
			return "", nil, false
		}

		if !s.inData {
			switch key {
			case "meta":
				s.iter.Skip()
				continue
			case "data":
				if s.iter.WhatIsNext() != jsoniter.ObjectValue {
					s.fail(`"data" must be an object of entities`, nil)
					return "", nil, false
				}
				s.inData = true
				continue
			}
		}

		tree := s.iter.Read()
		if err := s.iterError(); err != nil {
			s.fail(fmt.Sprintf("malformed price tree for %s", key), err)
			return "", nil, false
		}
		s.stats.Entities++
		s.entities.TestAndAddString(key)
		return key, tree, true
	}
}

func (s *PriceStream) iterError() error {
	if s.iter.Error != nil && s.iter.Error != io.EOF {
		return s.iter.Error
	}
	return nil
}

func (s *PriceStream) fail(message string, cause error) {
	s.err = errors.NewTransformError(s.opts.View, message, cause)
}

// flattenEntity walks one entity and queues its records.
func (s *PriceStream) flattenEntity(id string, tree interface{}) error {
	if tree == nil {
		return nil
	}
	seen := make(map[types.PriceKey]struct{})
	return s.walk(id, tree, nil, "", seen)
}

func (s *PriceStream) walk(id string, node interface{}, path []string, currency string, seen map[types.PriceKey]struct{}) error {
	m, ok := node.(map[string]interface{})
	if !ok {
		return s.malformed(id, path, fmt.Sprintf("expected an object, got %T", node))
	}

	if cur, ok := m["currency"].(string); ok {
		currency = cur
	}

	keys := make([]string, 0, len(m))
	dates := 0
	for k := range m {
		if k == "currency" {
			if _, ok := m[k].(string); ok {
				continue
			}
		}
		keys = append(keys, k)
		if isDate(k) {
			dates++
		}
	}
	sort.Strings(keys)

	if dates > 0 {
		if dates != len(keys) {
			return s.malformed(id, path, "date keys mixed with other keys")
		}
		return s.emit(id, path, currency, m, keys, seen)
	}

	for _, k := range keys {
		switch v := m[k].(type) {
		case nil:
			continue
		case map[string]interface{}:
			if err := s.walk(id, v, append(path[:len(path):len(path)], k), currency, seen); err != nil {
				return err
			}
		default:
			return s.malformed(id, append(path, k), fmt.Sprintf("unexpected %T value", v))
		}
	}
	return nil
}

func (s *PriceStream) emit(id string, path []string, currency string, m map[string]interface{}, dates []string, seen map[types.PriceKey]struct{}) error {
	if len(path) == 0 {
		return s.malformed(id, path, "date map has no finish level")
	}

	rec := types.PriceRecord{EntityID: id, Currency: currency, Finish: path[len(path)-1]}
	for _, seg := range path[:len(path)-1] {
		switch {
		case rec.Source == "" && has(s.sources, seg):
			rec.Source = seg
		case rec.PriceType == "" && has(s.priceTypes, seg):
			rec.PriceType = seg
		case rec.Provider == "":
			rec.Provider = seg
		default:
			rec.Provider += "." + seg
		}
	}

	for _, d := range dates {
		var price float64
		switch v := m[d].(type) {
		case nil:
			s.stats.NullPrices++
			continue
		case float64:
			price = v
		default:
			return s.malformed(id, append(path, d), fmt.Sprintf("price must be a number, got %T", v))
		}
		if price <= 0 {
			s.stats.NonPositive++
			continue
		}

		r := rec
		r.Date = d
		r.Price = price
		k := r.Key()
		if _, dup := seen[k]; dup {
			s.stats.Duplicates++
			continue
		}
		seen[k] = struct{}{}
		s.pending = append(s.pending, r)
	}
	return nil
}

func (s *PriceStream) malformed(id string, path []string, message string) error {
	return errors.NewTransformError(s.opts.View, message, nil).
		WithDetails(map[string]interface{}{"entity": id, "path": strings.Join(path, "/")})
}

func isDate(s string) bool {
	if len(s) != len(dateLayout) {
		return false
	}
	_, err := time.Parse(dateLayout, s)
	return err == nil
}

func toSet(items []string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, it := range items {
		out[it] = struct{}{}
	}
	return out
}

func has(set map[string]struct{}, key string) bool {
	_, ok := set[key]
	return ok
}
