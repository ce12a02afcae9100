// Package prom implements metrics.Metrics with Prometheus collectors.
package prom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/astromechza/lru-mirror/pkg/metrics"
)

var defaultBuckets = []float64{
	.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10,
}

var streamStates = []string{"connecting", "open", "reconnecting", "stopped"}

type promMetrics struct {
	eventsApplied     *prometheus.CounterVec
	eventsDropped     *prometheus.CounterVec
	streamState       *prometheus.GaugeVec
	reconnects        prometheus.Counter
	mutationDuration  *prometheus.HistogramVec
	mutationsTotal    *prometheus.CounterVec
	mirrorKeys        prometheus.Gauge
	snapshotLoadTotal *prometheus.CounterVec
}

// New registers the mirror client collectors on reg.
func New(reg prometheus.Registerer) metrics.Metrics {
	m := &promMetrics{
		eventsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lru_mirror_stream_events_applied_total",
			Help: "Push events applied to the mirror",
		}, []string{"action"}),

		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lru_mirror_stream_events_dropped_total",
			Help: "Push events ignored because they were malformed or unknown",
		}, []string{"reason"}),

		streamState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lru_mirror_stream_state",
			Help: "1 for the current push channel state, 0 otherwise",
		}, []string{"state"}),

		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lru_mirror_stream_reconnects_total",
			Help: "Reconnect attempts scheduled after the push channel closed",
		}),

		mutationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lru_mirror_mutation_duration_seconds",
			Help:    "Gateway request time in seconds",
			Buckets: defaultBuckets,
		}, []string{"op"}),

		mutationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lru_mirror_mutations_total",
			Help: "Gateway calls by outcome",
		}, []string{"op", "kind"}),

		mirrorKeys: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lru_mirror_keys",
			Help: "Number of keys currently held in the mirror",
		}),

		snapshotLoadTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lru_mirror_snapshot_loads_total",
			Help: "Snapshot loads by success",
		}, []string{"success"}),
	}

	reg.MustRegister(
		m.eventsApplied,
		m.eventsDropped,
		m.streamState,
		m.reconnects,
		m.mutationDuration,
		m.mutationsTotal,
		m.mirrorKeys,
		m.snapshotLoadTotal,
	)
	return m
}

func (m *promMetrics) EventApplied(action string) {
	m.eventsApplied.WithLabelValues(action).Inc()
}

func (m *promMetrics) EventDropped(reason string) {
	m.eventsDropped.WithLabelValues(reason).Inc()
}

func (m *promMetrics) StreamState(state string) {
	for _, s := range streamStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.streamState.WithLabelValues(s).Set(v)
	}
}

func (m *promMetrics) Reconnect() {
	m.reconnects.Inc()
}

func (m *promMetrics) MutationDuration(op string) metrics.Timer {
	return prometheus.NewTimer(m.mutationDuration.WithLabelValues(op))
}

func (m *promMetrics) MutationCompleted(op, kind string) {
	m.mutationsTotal.WithLabelValues(op, kind).Inc()
}

func (m *promMetrics) MirrorSize(n int) {
	m.mirrorKeys.Set(float64(n))
}

func (m *promMetrics) SnapshotLoaded(ok bool) {
	m.snapshotLoadTotal.WithLabelValues(boolToStr(ok)).Inc()
}

func boolToStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
