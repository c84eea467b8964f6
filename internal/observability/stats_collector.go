package observability

import (
	"sort"

	"github.com/prometheus/client_golang/prometheus"
)

// maxStatsSeries caps the predicate and view series exported per scrape.
const maxStatsSeries = 100

var (
	predicateUsesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "predicate_uses_total"),
		"Builder predicates by qualified column and operator, over the stats window.",
		[]string{"column", "operator"}, nil)
	viewReadsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "view_reads_total"),
		"Builder queries per view, over the stats window.",
		[]string{"view"}, nil)
)

// statsCollector exports the hottest entries of a QueryStats on each
// scrape. Entries older than the window are pruned first.
type statsCollector struct {
	stats *QueryStats
}

func (c statsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- predicateUsesDesc
	ch <- viewReadsDesc
}

func (c statsCollector) Collect(ch chan<- prometheus.Metric) {
	c.stats.Prune()

	for _, p := range c.stats.GetTopPredicates(maxStatsSeries) {
		ops := make([]string, 0, len(p.Operators))
		for op := range p.Operators {
			ops = append(ops, op)
		}
		sort.Strings(ops)
		for _, op := range ops {
			ch <- prometheus.MustNewConstMetric(predicateUsesDesc, prometheus.CounterValue,
				float64(p.Operators[op]), p.Column, op)
		}
	}
	for _, v := range c.stats.GetTopViews(maxStatsSeries) {
		ch <- prometheus.MustNewConstMetric(viewReadsDesc, prometheus.CounterValue, float64(v.Frequency), v.Column)
	}
}

// WatchQueryStats exports q through the metrics registry.
func (m *Metrics) WatchQueryStats(q *QueryStats) error {
	return m.Registry.Register(statsCollector{stats: q})
}
