// Package observability tracks how sessions are used: which predicates
// queries filter on, which views they read, and build/load metrics.
package observability

import (
	"sort"
	"sync"
	"time"
)

// QueryStats tracks predicate and view frequency across builder queries.
// Hot predicate columns are candidates for pre-materialized views.
type QueryStats struct {
	mu            sync.RWMutex
	predicateFreq map[string]*ColumnStats
	viewFreq      map[string]*ColumnStats
	window        time.Duration
}

// ColumnStats holds statistics for a column or view.
type ColumnStats struct {
	Column    string
	Frequency int64
	LastSeen  time.Time
	Operators map[string]int // operator → count (e.g., "=" → 5, "IN" → 2)
}

// NewQueryStats creates a new query statistics tracker.
// window: time duration for pruning old entries (e.g., 1 hour)
func NewQueryStats(window time.Duration) *QueryStats {
	return &QueryStats{
		predicateFreq: make(map[string]*ColumnStats),
		viewFreq:      make(map[string]*ColumnStats),
		window:        window,
	}
}

// RecordPredicate records a predicate on a column.
// column: the qualified column name (e.g., "cards.rarity")
// operator: the comparison operator (e.g., "=", "IN", "FUZZY")
func (q *QueryStats) RecordPredicate(column, operator string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats, exists := q.predicateFreq[column]
	if !exists {
		stats = &ColumnStats{
			Column:    column,
			Operators: make(map[string]int),
		}
		q.predicateFreq[column] = stats
	}

	stats.Frequency++
	stats.LastSeen = time.Now()
	stats.Operators[operator]++
}

// RecordView records a query against a view.
func (q *QueryStats) RecordView(view string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats, exists := q.viewFreq[view]
	if !exists {
		stats = &ColumnStats{
			Column:    view,
			Operators: make(map[string]int),
		}
		q.viewFreq[view] = stats
	}

	stats.Frequency++
	stats.LastSeen = time.Now()
}

// GetTopPredicates returns the top N predicate columns by frequency.
func (q *QueryStats) GetTopPredicates(n int) []ColumnStats {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return topN(q.predicateFreq, n)
}

// GetTopViews returns the top N views by frequency.
func (q *QueryStats) GetTopViews(n int) []ColumnStats {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return topN(q.viewFreq, n)
}

// topN copies the n most frequent entries, ties broken by name.
// Caller must hold q.mu.
func topN(freq map[string]*ColumnStats, n int) []ColumnStats {
	if n <= 0 || len(freq) == 0 {
		return []ColumnStats{}
	}

	stats := make([]ColumnStats, 0, len(freq))
	for _, s := range freq {
		statsCopy := ColumnStats{
			Column:    s.Column,
			Frequency: s.Frequency,
			LastSeen:  s.LastSeen,
			Operators: make(map[string]int, len(s.Operators)),
		}
		for op, count := range s.Operators {
			statsCopy.Operators[op] = count
		}
		stats = append(stats, statsCopy)
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Frequency != stats[j].Frequency {
			return stats[i].Frequency > stats[j].Frequency
		}
		return stats[i].Column < stats[j].Column
	})

	if n > len(stats) {
		n = len(stats)
	}
	return stats[:n]
}

// Prune removes entries where time.Since(LastSeen) > window.
func (q *QueryStats) Prune() {
	q.mu.Lock()
	defer q.mu.Unlock()

	threshold := time.Now().Add(-q.window)

	for col, stats := range q.predicateFreq {
		if stats.LastSeen.Before(threshold) {
			delete(q.predicateFreq, col)
		}
	}
	for view, stats := range q.viewFreq {
		if stats.LastSeen.Before(threshold) {
			delete(q.viewFreq, view)
		}
	}
}
