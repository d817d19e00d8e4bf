package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counter is a thin named wrapper over a prometheus.Counter, letting a
// counter be passed around and incremented (worker drops, poison
// messages, dropped alerts) without every caller importing prometheus
// directly. Follows the promauto-registered-CounterVec-plus-record-
// methods shape common across this codebase's metrics structs.
type Counter struct {
	c prometheus.Counter
}

func (c *Counter) Inc() {
	if c == nil || c.c == nil {
		return
	}
	c.c.Inc()
}

func (c *Counter) Add(v float64) {
	if c == nil || c.c == nil {
		return
	}
	c.c.Add(v)
}

// Metrics holds the backpressure and throughput counters that must never
// go silent: records_dropped, retries_exhausted, alerts_dropped, plus
// per-record processing duration.
type Metrics struct {
	RecordsDropped     *Counter
	RetriesExhausted   *Counter
	AlertsDropped      *Counter
	ProcessingDuration prometheus.Histogram
}

// NewMetrics registers and returns the worker pool's Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		RecordsDropped: &Counter{c: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fraudmesh_records_dropped_total",
			Help: "Stream records dropped without being scored (poison messages, invalid input).",
		})},
		RetriesExhausted: &Counter{c: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fraudmesh_retries_exhausted_total",
			Help: "Graph store operations that exhausted the transient-retry budget.",
		})},
		AlertsDropped: &Counter{c: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fraudmesh_alerts_dropped_total",
			Help: "Alerts dropped by slow websocket subscribers.",
		})},
		ProcessingDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fraudmesh_record_processing_duration_seconds",
			Help:    "End-to-end per-record processing time (ingest through ACK).",
			Buckets: []float64{.01, .025, .05, .1, .15, .2, .3, .5, 1},
		}),
	}
}
