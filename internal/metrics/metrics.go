// Package metrics records extension lifecycle activity in Prometheus
// collectors. A CLI run has no scrape endpoint, so the registry is
// written to a node_exporter textfile on exit.
package metrics

import (
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dshills/artifex/internal/extension"
)

const namespace = "artifex"

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics holds the lifecycle collectors.
type Metrics struct {
	registry *prometheus.Registry

	Transitions       *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec
	Batches           *prometheus.CounterVec
	BatchResults      *prometheus.CounterVec
	Reloads           prometheus.Counter
}

// New creates and registers the collectors on registry. A nil registry
// gets a fresh one.
func New(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	m := &Metrics{
		registry: registry,
		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "extension_transitions_total",
				Help:      "Lifecycle operations attempted, by extension, operation and outcome.",
			},
			[]string{"extension", "op", "outcome"},
		),
		ExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "extension_execution_duration_seconds",
				Help:      "Time spent in extension execute calls.",
				Buckets:   []float64{.001, .01, .05, .1, .5, 1, 5, 30, 120},
			},
			[]string{"extension"},
		),
		Batches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_total",
				Help:      "Batch runs, by outcome.",
			},
			[]string{"outcome"},
		),
		BatchResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batch_results_total",
				Help:      "Per-extension batch results, by stage and outcome.",
			},
			[]string{"stage", "outcome"},
		),
		Reloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reloads_total",
			Help:      "Completed registry reloads.",
		}),
	}
	registry.MustRegister(m.Transitions, m.ExecutionDuration, m.Batches, m.BatchResults, m.Reloads)
	return m
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Observe records one lifecycle event. It is an extension.EventHandler.
func (m *Metrics) Observe(ev extension.Event) {
	if ev.Op == extension.OpReload {
		m.Reloads.Inc()
		return
	}
	outcome := OutcomeSuccess
	if ev.Err != nil {
		outcome = OutcomeFailure
	}
	m.Transitions.WithLabelValues(ev.Extension, string(ev.Op), outcome).Inc()
	if ev.Op == extension.OpExecute {
		m.ExecutionDuration.WithLabelValues(ev.Extension).Observe(ev.Duration.Seconds())
	}
}

// ObserveBatch records a finished batch.
func (m *Metrics) ObserveBatch(s *extension.Summary) {
	if s == nil {
		return
	}
	outcome := OutcomeSuccess
	if !s.OK() {
		outcome = OutcomeFailure
	}
	m.Batches.WithLabelValues(outcome).Inc()
	for _, r := range s.Results {
		o := OutcomeSuccess
		if !r.Success {
			o = OutcomeFailure
		}
		m.BatchResults.WithLabelValues(string(r.Stage), o).Inc()
	}
}

// Attach subscribes m to the manager's events and returns the
// unsubscribe function.
func (m *Metrics) Attach(mgr *extension.Manager) func() {
	return mgr.Subscribe(m.Observe)
}

// WriteTextfile writes the registry in the text exposition format,
// atomically replacing path.
func (m *Metrics) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	return errors.Wrapf(prometheus.WriteToTextfile(path, m.registry), "writing metrics to %s", path)
}
