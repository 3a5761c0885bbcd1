// Package metrics provides the Prometheus implementation of the engine's
// MetricsCollector.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tillsync/tillsync"
	"github.com/tillsync/tillsync/entity"
)

// Collector exports engine activity as Prometheus metrics.
type Collector struct {
	mutations      *prometheus.CounterVec
	replayDuration prometheus.Histogram
	replayedTotal  prometheus.Counter
	pending        prometheus.Gauge
	online         prometheus.Gauge
}

var _ tillsync.MetricsCollector = (*Collector)(nil)

// NewCollector creates a collector and registers its metrics with reg.
// Pass prometheus.DefaultRegisterer for the process-wide registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tillsync",
			Name:      "mutations_total",
			Help:      "Mutation calls by entity kind, operation and outcome.",
		}, []string{"kind", "op", "outcome"}),
		replayDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tillsync",
			Name:      "replay_duration_seconds",
			Help:      "Duration of replay passes.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		replayedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tillsync",
			Name:      "replayed_entries_total",
			Help:      "Outbox entries confirmed by replay.",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tillsync",
			Name:      "outbox_pending",
			Help:      "Outbox entries awaiting replay.",
		}),
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tillsync",
			Name:      "online",
			Help:      "Whether the remote is reachable (1) or not (0).",
		}),
	}

	reg.MustRegister(c.mutations, c.replayDuration, c.replayedTotal, c.pending, c.online)
	return c
}

func (c *Collector) RecordMutation(kind entity.Kind, op tillsync.Operation, outcome string) {
	c.mutations.WithLabelValues(kind.String(), string(op), outcome).Inc()
}

func (c *Collector) RecordReplay(duration time.Duration, replayed, remaining int) {
	c.replayDuration.Observe(duration.Seconds())
	c.replayedTotal.Add(float64(replayed))
	c.pending.Set(float64(remaining))
}

func (c *Collector) RecordPending(n int) {
	c.pending.Set(float64(n))
}

func (c *Collector) RecordConnectivity(online bool) {
	if online {
		c.online.Set(1)
		return
	}
	c.online.Set(0)
}
