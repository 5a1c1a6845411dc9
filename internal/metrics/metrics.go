package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bountyd"

// Kinds of reconciled write.
const (
	KindCreate   = "create"
	KindComplete = "complete"
)

// Metrics groups the service counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	reconcile     *prometheus.CounterVec
	events        *prometheus.CounterVec
	sweepRuns     *prometheus.CounterVec
	sweepEntries  *prometheus.CounterVec
	sweepDuration prometheus.Histogram
}

// New builds the collectors and registers them with reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		reconcile: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_total",
			Help:      "Reconciled creation and completion requests by outcome.",
		}, []string{"kind", "outcome"}),
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Lifecycle events published by topic and result.",
		}, []string{"topic", "result"}),
		sweepRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_runs_total",
			Help:      "Backup sweeps by result.",
		}, []string{"result"}),
		sweepEntries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_entries_total",
			Help:      "Backup entries handled by sweeps, by kind and result.",
		}, []string{"kind", "result"}),
		sweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Wall time of a backup sweep.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
	}
}

func (m *Metrics) ObserveReconcile(kind, outcome string) {
	if m == nil {
		return
	}
	m.reconcile.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) ObserveEvent(topic string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.events.WithLabelValues(topic, result).Inc()
}

// SweepCounts is the per-kind tally of one sweep pass.
type SweepCounts struct {
	Reconciled int
	Failed     int
	Skipped    int
}

func (m *Metrics) ObserveSweep(result string, d time.Duration, creations, completions SweepCounts) {
	if m == nil {
		return
	}
	m.sweepRuns.WithLabelValues(result).Inc()
	m.sweepDuration.Observe(d.Seconds())
	for kind, c := range map[string]SweepCounts{KindCreate: creations, KindComplete: completions} {
		m.sweepEntries.WithLabelValues(kind, "reconciled").Add(float64(c.Reconciled))
		m.sweepEntries.WithLabelValues(kind, "failed").Add(float64(c.Failed))
		m.sweepEntries.WithLabelValues(kind, "skipped").Add(float64(c.Skipped))
	}
}

// Handler serves the gatherer in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
