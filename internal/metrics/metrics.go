// Package metrics exposes the translator's counters and gauges to
// Prometheus, using client_golang for the collector types and
// promhttp for the HTTP handler cmd/nat64ctl serves.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector implements nat64.MetricsSink by updating a small set of
// Prometheus collectors. It satisfies that interface structurally —
// nothing in this package imports internal/nat64.
type Collector struct {
	packetsTotal   *prometheus.CounterVec
	mappingsActive prometheus.Gauge
	poolAvailable  prometheus.Gauge
}

// NewCollector constructs a Collector and registers its metrics with
// reg. Every direction/verdict series of packets_total starts at zero,
// so the family is visible to a scrape before the first packet. The
// nat64ctl commands pass a dedicated prometheus.NewRegistry(), which
// their metrics HTTP endpoint serves.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		packetsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nat64",
			Name:      "packets_total",
			Help:      "Packets handled by the translator, by direction and verdict.",
		}, []string{"direction", "verdict"}),
		mappingsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nat64",
			Name:      "mappings_active",
			Help:      "Number of active IPv6<->IPv4 address mappings.",
		}),
		poolAvailable: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nat64",
			Name:      "pool_available",
			Help:      "Number of unassigned IPv4 addresses left in the pool.",
		}),
	}
	reg.MustRegister(c.packetsTotal, c.mappingsActive, c.poolAvailable)
	for _, direction := range []string{"outgoing", "incoming"} {
		for _, verdict := range []string{"forward", "drop", "reply-icmp"} {
			c.packetsTotal.WithLabelValues(direction, verdict)
		}
	}
	return c
}

// RecordVerdict increments the packets_total counter for a direction and
// verdict pair (e.g. "outgoing"/"forward", "incoming"/"drop").
func (c *Collector) RecordVerdict(direction, verdict string) {
	c.packetsTotal.WithLabelValues(direction, verdict).Inc()
}

// SetMappingsActive sets the mappings_active gauge.
func (c *Collector) SetMappingsActive(n int) {
	c.mappingsActive.Set(float64(n))
}

// SetPoolAvailable sets the pool_available gauge.
func (c *Collector) SetPoolAvailable(n int) {
	c.poolAvailable.Set(float64(n))
}
