package transform

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtgsql/mtgsql/internal/errors"
	"github.com/mtgsql/mtgsql/pkg/types"
)

func drain(t *testing.T, s *PriceStream) []types.PriceRecord {
	t.Helper()
	var out []types.PriceRecord
	for {
		rec, ok := s.Next()
		if !ok {
			break
		}
		out = append(out, rec)
	}
	return out
}

func TestPriceStream_NullLeafSkipped(t *testing.T) {
	doc := `{"X": {"tcgplayer": {"normal": {"2024-01-01": 1.5, "2024-01-02": null}}}}`
	s := NewPriceStream(strings.NewReader(doc), DefaultPriceOptions("all_prices"))

	recs := drain(t, s)
	require.NoError(t, s.Err())
	require.Len(t, recs, 1)
	assert.Equal(t, types.PriceRecord{
		EntityID: "X", Provider: "tcgplayer", Finish: "normal", Date: "2024-01-01", Price: 1.5,
	}, recs[0])
	assert.Equal(t, int64(1), s.Stats().NullPrices)
}

func TestPriceStream_EnvelopeAndLevels(t *testing.T) {
	doc := `{
	  "meta": {"date": "2024-01-02", "version": "5.2.2"},
	  "data": {
	    "uuid-1": {
	      "paper": {
	        "cardkingdom": {
	          "currency": "USD",
	          "buylist": {"foil": {"2024-01-01": 0.25}},
	          "retail": {"normal": {"2024-01-01": 0.49}}
	        }
	      },
	      "mtgo": {
	        "cardhoarder": {"currency": "TIX", "retail": {"normal": {"2024-01-01": 0.02}}}
	      }
	    },
	    "uuid-2": null
	  }
	}`
	s := NewPriceStream(strings.NewReader(doc), DefaultPriceOptions("all_prices_today"))
	recs := drain(t, s)
	require.NoError(t, s.Err())

	assert.ElementsMatch(t, []types.PriceRecord{
		{EntityID: "uuid-1", Source: "mtgo", Provider: "cardhoarder", PriceType: "retail", Finish: "normal", Currency: "TIX", Date: "2024-01-01", Price: 0.02},
		{EntityID: "uuid-1", Source: "paper", Provider: "cardkingdom", PriceType: "buylist", Finish: "foil", Currency: "USD", Date: "2024-01-01", Price: 0.25},
		{EntityID: "uuid-1", Source: "paper", Provider: "cardkingdom", PriceType: "retail", Finish: "normal", Currency: "USD", Date: "2024-01-01", Price: 0.49},
	}, recs)
	assert.Equal(t, int64(2), s.Stats().Entities)
	assert.Equal(t, int64(3), s.Stats().Records)
}

func TestPriceStream_NonUniformDepth(t *testing.T) {
	doc := `{"X": {
	  "tcgplayer": {"normal": {"2024-01-01": 1}},
	  "cardmarket": {"eu": {"retail": {"foil": {"2024-01-01": 2}}}}
	}}`
	s := NewPriceStream(strings.NewReader(doc), DefaultPriceOptions("p"))
	recs := drain(t, s)
	require.NoError(t, s.Err())
	require.Len(t, recs, 2)
	assert.Equal(t, "cardmarket.eu", recs[0].Provider)
	assert.Equal(t, "retail", recs[0].PriceType)
	assert.Equal(t, "tcgplayer", recs[1].Provider)
}

func TestPriceStream_NonPositiveDropped(t *testing.T) {
	doc := `{"X": {"tcg": {"normal": {"2024-01-01": 0, "2024-01-02": -3, "2024-01-03": 4}}}}`
	s := NewPriceStream(strings.NewReader(doc), DefaultPriceOptions("p"))
	recs := drain(t, s)
	require.NoError(t, s.Err())
	require.Len(t, recs, 1)
	assert.Equal(t, int64(2), s.Stats().NonPositive)
}

func TestPriceStream_Malformed(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"string price", `{"X": {"tcg": {"normal": {"2024-01-01": "1.5"}}}}`},
		{"mixed keys", `{"X": {"tcg": {"normal": {"2024-01-01": 1, "foil": {}}}}}`},
		{"array", `{"X": {"tcg": [1, 2]}}`},
		{"scalar entity", `{"X": 3}`},
		{"no finish", `{"X": {"2024-01-01": 1}}`},
		{"not an object", `[1, 2, 3]`},
		{"truncated", `{"X": {"tcg": {"normal": {"2024-01-01": 1`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewPriceStream(strings.NewReader(tt.doc), DefaultPriceOptions("all_prices"))
			drain(t, s)
			require.Error(t, s.Err())
			assert.True(t, errors.HasCode(s.Err(), errors.CodeTransformFailure), "got %v", s.Err())
		})
	}
}

func TestPriceStream_StopsAtFirstError(t *testing.T) {
	doc := `{"A": {"tcg": {"normal": {"2024-01-01": 1}}}, "B": {"tcg": {"normal": {"2024-01-01": "x"}}}, "C": {"tcg": {"normal": {"2024-01-01": 3}}}}`
	s := NewPriceStream(strings.NewReader(doc), DefaultPriceOptions("p"))
	recs := drain(t, s)
	assert.Len(t, recs, 1)
	require.Error(t, s.Err())
	_, ok := s.Next()
	assert.False(t, ok)
}

func TestPriceStream_RepeatedEntityFlagged(t *testing.T) {
	doc := `{"A": {"tcg": {"normal": {"2024-01-01": 1}}}, "A": {"tcg": {"normal": {"2024-01-01": 1}}}}`
	s := NewPriceStream(strings.NewReader(doc), DefaultPriceOptions("p"))
	drain(t, s)
	require.NoError(t, s.Err())
	assert.Equal(t, uint64(1), s.Stats().RepeatedEntities)
}

// genTree builds entity -> provider -> finish -> date -> price documents
// with some null prices mixed in.
func genTree() gopter.Gen {
	price := gen.PtrOf(gen.Float64Range(0.01, 1000))
	dates := gen.MapOf(gen.IntRange(1, 28).Map(func(d int) string { return fmt.Sprintf("2024-02-%02d", d) }), price)
	finishes := gen.MapOf(gen.OneConstOf("normal", "foil", "etched"), dates)
	providers := gen.MapOf(gen.OneConstOf("tcgplayer", "cardkingdom", "cardmarket"), finishes)
	return gen.MapOf(gen.Identifier().Map(func(s string) string { return "uuid-" + s }), providers)
}

func TestPriceStreamProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("no null prices and no duplicate keys", prop.ForAll(
		func(tree map[string]map[string]map[string]map[string]*float64) bool {
			data, err := json.Marshal(tree)
			if err != nil {
				return false
			}
			s := NewPriceStream(strings.NewReader(string(data)), DefaultPriceOptions("p"))
			seen := make(map[types.PriceKey]bool)
			for {
				rec, ok := s.Next()
				if !ok {
					break
				}
				if rec.Price <= 0 || seen[rec.Key()] {
					return false
				}
				seen[rec.Key()] = true
			}
			return s.Err() == nil
		},
		genTree(),
	))

	properties.Property("one record per non-null leaf", prop.ForAll(
		func(tree map[string]map[string]map[string]map[string]*float64) bool {
			want := 0
			for _, providers := range tree {
				for _, finishes := range providers {
					for _, dates := range finishes {
						for _, p := range dates {
							if p != nil {
								want++
							}
						}
					}
				}
			}
			data, _ := json.Marshal(tree)
			s := NewPriceStream(strings.NewReader(string(data)), DefaultPriceOptions("p"))
			got := 0
			for {
				if _, ok := s.Next(); !ok {
					break
				}
				got++
			}
			return s.Err() == nil && got == want
		},
		genTree(),
	))

	properties.TestingRun(t)
}
