package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector exposes the sink to a Prometheus registry. It is unchecked:
// metric names are only known at collection time.
type Collector struct {
	sink      *Sink
	namespace string
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector wraps the sink under the given namespace.
func NewCollector(sink *Sink, namespace string) *Collector {
	return &Collector{sink: sink, namespace: namespace}
}

// Describe sends no descriptors, which marks the collector as unchecked.
func (c *Collector) Describe(chan<- *prometheus.Desc) {}

// Collect converts the current snapshot into constant metrics.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.sink.Snapshot()

	for name, v := range snap.Counters {
		base, label, hasLabel := strings.Cut(name, ":")
		if hasLabel {
			desc := prometheus.NewDesc(c.fqName(base), "NewsDesk counter "+base, []string{"window"}, nil)
			ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, v, label)
			continue
		}
		desc := prometheus.NewDesc(c.fqName(name), "NewsDesk counter "+name, nil, nil)
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, v)
	}
	for name, v := range snap.Gauges {
		desc := prometheus.NewDesc(c.fqName(name), "NewsDesk gauge "+name, nil, nil)
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, v)
	}
	for name, v := range snap.Rates {
		desc := prometheus.NewDesc(c.fqName(name), "NewsDesk derived rate "+name, nil, nil)
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, v)
	}
	for name, h := range snap.Histograms {
		desc := prometheus.NewDesc(c.fqName(name+"_seconds"), "NewsDesk latency "+name, nil, nil)
		ch <- prometheus.MustNewConstSummary(desc, uint64(h.Count), 0, map[float64]float64{
			0.5:  h.P50,
			0.95: h.P95,
		})
	}
}

func (c *Collector) fqName(name string) string {
	return prometheus.BuildFQName(c.namespace, "", sanitize(name))
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
