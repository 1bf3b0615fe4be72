// Package metrics exposes Prometheus instrumentation for a chaincast
// peer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the counters a peer updates while producing, storing,
// and gossiping.
type Metrics struct {
	registry *prometheus.Registry

	SegmentsStoredTotal prometheus.Counter
	ChunksWrittenTotal  prometheus.Counter
	MergesAppliedTotal  prometheus.Counter
	MergesStaleTotal    prometheus.Counter
	GossipRoundsTotal   prometheus.Counter
	KnownPublishers     prometheus.Gauge
}

// New creates and registers the peer metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		SegmentsStoredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chaincast_segments_stored_total",
			Help: "Total number of segment nodes stored locally",
		}),
		ChunksWrittenTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chaincast_chunks_written_total",
			Help: "Total number of payload chunks written (deduplicated writes excluded)",
		}),
		MergesAppliedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chaincast_beacon_merges_applied_total",
			Help: "Total number of beacon entries that replaced or inserted state",
		}),
		MergesStaleTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chaincast_beacon_merges_stale_total",
			Help: "Total number of beacon entries ignored as stale or duplicate",
		}),
		GossipRoundsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chaincast_gossip_rounds_total",
			Help: "Total number of snapshot broadcasts sent",
		}),
		KnownPublishers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chaincast_known_publishers",
			Help: "Number of publishers present in the local beacon state",
		}),
	}

	registry.MustRegister(
		m.SegmentsStoredTotal,
		m.ChunksWrittenTotal,
		m.MergesAppliedTotal,
		m.MergesStaleTotal,
		m.GossipRoundsTotal,
		m.KnownPublishers,
	)
	return m
}

// Handler returns an HTTP handler serving the registry in the
// Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
