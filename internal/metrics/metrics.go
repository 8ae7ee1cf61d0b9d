// Package metrics exports reconciliation and supervisor command counts
// through Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	habitat "github.com/axondata/go-habitat"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "habconverge"

// Recorder implements habitat.Recorder on a private registry
type Recorder struct {
	registry      *prometheus.Registry
	commands      *prometheus.CounterVec
	reconciles    *prometheus.CounterVec
	duration      prometheus.Histogram
	lastChanged   prometheus.Gauge
	lastReconcile prometheus.Gauge
}

var _ habitat.Recorder = (*Recorder)(nil)

// NewRecorder creates a Recorder and registers its collectors
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "supervisor_commands_total",
			Help:      "hab commands issued, by operation and success.",
		}, []string{"op", "ok"}),
		reconciles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciles_total",
			Help:      "Reconciliations run, by result.",
		}, []string{"result"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconcile_duration_seconds",
			Help:      "Wall time of one reconciliation, settle delays included.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		lastChanged: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_reconcile_changed",
			Help:      "1 if the last reconciliation changed the service.",
		}),
		lastReconcile: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_reconcile_timestamp_seconds",
			Help:      "Unix time the last reconciliation finished.",
		}),
	}
	r.registry.MustRegister(r.commands, r.reconciles, r.duration, r.lastChanged, r.lastReconcile)
	return r
}

// ObserveCommand counts one hab subprocess
func (r *Recorder) ObserveCommand(op habitat.Operation, ok bool) {
	r.commands.WithLabelValues(op.String(), strconv.FormatBool(ok)).Inc()
}

// ObserveReconcile counts one reconciliation
func (r *Recorder) ObserveReconcile(outcome habitat.Outcome, err error, elapsed time.Duration) {
	result := "unchanged"
	switch {
	case err != nil:
		result = "error"
	case outcome.Changed:
		result = "changed"
	}
	r.reconciles.WithLabelValues(result).Inc()
	r.duration.Observe(elapsed.Seconds())
	if outcome.Changed {
		r.lastChanged.Set(1)
	} else {
		r.lastChanged.Set(0)
	}
	r.lastReconcile.SetToCurrentTime()
}

// Registry exposes the underlying registry, mainly for tests
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the collected metrics in the Prometheus text format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
