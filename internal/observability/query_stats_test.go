package observability

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// TestRecordPredicateConcurrent tests concurrent RecordPredicate calls for race conditions.
func TestRecordPredicateConcurrent(t *testing.T) {
	qs := NewQueryStats(1 * time.Hour)
	var wg sync.WaitGroup
	numGoroutines := 10
	recordsPerGoroutine := 100

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < recordsPerGoroutine; j++ {
				qs.RecordPredicate("cards.rarity", "=")
				qs.RecordPredicate("cards.setCode", "IN")
				qs.RecordPredicate("cards.name", "FUZZY")
				qs.RecordView("cards")
			}
		}()
	}

	wg.Wait()

	top := qs.GetTopPredicates(10)
	if len(top) != 3 {
		t.Errorf("expected 3 predicates, got %d", len(top))
	}

	expectedFreq := int64(numGoroutines * recordsPerGoroutine)
	for _, stat := range top {
		if stat.Frequency != expectedFreq {
			t.Errorf("expected frequency %d for %s, got %d", expectedFreq, stat.Column, stat.Frequency)
		}
	}

	views := qs.GetTopViews(5)
	if len(views) != 1 || views[0].Frequency != expectedFreq {
		t.Errorf("unexpected view stats %+v", views)
	}
}

func TestGetTopPredicatesOrdering(t *testing.T) {
	qs := NewQueryStats(1 * time.Hour)

	for i := 0; i < 5; i++ {
		qs.RecordPredicate("cards.rarity", "=")
	}
	for i := 0; i < 3; i++ {
		qs.RecordPredicate("cards.setCode", "IN")
	}
	qs.RecordPredicate("cards.setCode", "=")
	qs.RecordPredicate("card_legalities.format", "=")

	top := qs.GetTopPredicates(2)
	if len(top) != 2 {
		t.Fatalf("expected 2 predicates, got %d", len(top))
	}
	if top[0].Column != "cards.rarity" || top[1].Column != "cards.setCode" {
		t.Errorf("unexpected order: %s, %s", top[0].Column, top[1].Column)
	}
	if top[1].Operators["IN"] != 3 || top[1].Operators["="] != 1 {
		t.Errorf("unexpected operator counts %v", top[1].Operators)
	}

	// Copies are detached from internal state
	top[0].Operators["="] = 100
	if qs.GetTopPredicates(1)[0].Operators["="] != 5 {
		t.Error("GetTopPredicates leaked internal map")
	}

	if got := qs.GetTopPredicates(0); len(got) != 0 {
		t.Errorf("expected empty result for n=0, got %d", len(got))
	}
}

func TestPrune(t *testing.T) {
	qs := NewQueryStats(50 * time.Millisecond)
	qs.RecordPredicate("cards.rarity", "=")
	qs.RecordView("cards")

	time.Sleep(100 * time.Millisecond)
	qs.RecordPredicate("cards.name", "FUZZY")
	qs.Prune()

	top := qs.GetTopPredicates(10)
	if len(top) != 1 || top[0].Column != "cards.name" {
		t.Errorf("expected only the recent predicate, got %+v", top)
	}
	if len(qs.GetTopViews(10)) != 0 {
		t.Error("expected views pruned")
	}
}

func TestMetrics(t *testing.T) {
	m := NewMetrics()

	m.ObserveBuild("cards", 20*time.Millisecond, nil)
	m.ObserveBuild("cards", 10*time.Millisecond, errors.New("boom"))
	m.ObserveQuery("cards", nil)
	m.PriceRecords.WithLabelValues("all_prices_today", "loaded").Add(3)

	if got := testutil.ToFloat64(m.ViewBuilds.WithLabelValues("cards", "ok")); got != 1 {
		t.Errorf("expected 1 ok build, got %v", got)
	}
	if got := testutil.ToFloat64(m.ViewBuilds.WithLabelValues("cards", "error")); got != 1 {
		t.Errorf("expected 1 failed build, got %v", got)
	}
	if got := testutil.ToFloat64(m.PriceRecords.WithLabelValues("all_prices_today", "loaded")); got != 3 {
		t.Errorf("expected 3 price records, got %v", got)
	}
	if n := testutil.CollectAndCount(m.ViewBuildSeconds); n != 1 {
		t.Errorf("expected one histogram series, got %d", n)
	}

	// Independent registries
	other := NewMetrics()
	if got := testutil.ToFloat64(other.ViewBuilds.WithLabelValues("cards", "ok")); got != 0 {
		t.Errorf("metrics leaked between sessions: %v", got)
	}
}

func TestWatchQueryStats(t *testing.T) {
	m := NewMetrics()
	qs := NewQueryStats(time.Hour)
	if err := m.WatchQueryStats(qs); err != nil {
		t.Fatalf("register: %v", err)
	}

	qs.RecordView("cards")
	qs.RecordView("cards")
	qs.RecordPredicate("cards.rarity", "=")
	qs.RecordPredicate("cards.rarity", "=")
	qs.RecordPredicate("cards.rarity", "IN")
	qs.RecordPredicate("cards.name", "FUZZY")

	want := `
# HELP mtgsql_predicate_uses_total Builder predicates by qualified column and operator, over the stats window.
# TYPE mtgsql_predicate_uses_total counter
mtgsql_predicate_uses_total{column="cards.name",operator="FUZZY"} 1
mtgsql_predicate_uses_total{column="cards.rarity",operator="="} 2
mtgsql_predicate_uses_total{column="cards.rarity",operator="IN"} 1
# HELP mtgsql_view_reads_total Builder queries per view, over the stats window.
# TYPE mtgsql_view_reads_total counter
mtgsql_view_reads_total{view="cards"} 2
`
	if err := testutil.GatherAndCompare(m.Registry, strings.NewReader(want),
		"mtgsql_predicate_uses_total", "mtgsql_view_reads_total"); err != nil {
		t.Error(err)
	}

	if err := m.WatchQueryStats(qs); err == nil {
		t.Error("expected a second registration to be rejected")
	}
}
