package stats

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector adapts Statistics to a prometheus.Collector so tickers can be
// registered with a prometheus.Registry and scraped.
type Collector struct {
	stats *Statistics
	descs [TickerEnumMax]*prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a collector over s.
func NewCollector(s *Statistics) *Collector {
	c := &Collector{stats: s}
	for t := TickerType(0); t < TickerEnumMax; t++ {
		c.descs[t] = prometheus.NewDesc(promName(t), t.String(), nil, nil)
	}
	return c
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.descs {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for t := TickerType(0); t < TickerEnumMax; t++ {
		ch <- prometheus.MustNewConstMetric(
			c.descs[t], prometheus.CounterValue, float64(c.stats.GetTickerCount(t)))
	}
}

// promName converts a dotted ticker name to a Prometheus metric name,
// e.g. "rangekv.compaction.key.drop.range-del" to
// "rangekv_compaction_key_drop_range_del_total".
func promName(t TickerType) string {
	r := strings.NewReplacer(".", "_", "-", "_")
	return r.Replace(t.String()) + "_total"
}
