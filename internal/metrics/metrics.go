// Package metrics records operational metrics under topic/function names and
// exposes them in Prometheus format.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "investigator"

// Registry holds the collectors behind the Metric* helpers.
type Registry struct {
	reg       *prometheus.Registry
	durations *prometheus.HistogramVec
	counters  *prometheus.CounterVec
	gauges    *prometheus.GaugeVec
	outcomes  *prometheus.CounterVec
}

var (
	instance *Registry
	once     sync.Once
)

// GetInstance returns the process-wide registry.
func GetInstance() *Registry {
	once.Do(func() {
		instance = New()
		instance.reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})
	return instance
}

// New creates an isolated registry. Tests use this to avoid shared state.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "duration_seconds",
			Help:      "Duration of timed operations.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20, 40, 60},
		}, []string{"topic", "function"}),
		counters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Counted events.",
		}, []string{"topic", "function"}),
		gauges: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "value",
			Help:      "Last observed value.",
		}, []string{"topic", "function"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outcomes_total",
			Help:      "Operation outcomes (success, fail or a specific reason).",
		}, []string{"topic", "operation", "outcome"}),
	}
	r.reg.MustRegister(r.durations, r.counters, r.gauges, r.outcomes)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// Gatherer exposes the underlying registry (used by tests).
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

func (r *Registry) RecordDuration(topic, function string, d time.Duration) {
	r.durations.WithLabelValues(topic, function).Observe(d.Seconds())
}

func (r *Registry) AddCounter(topic, function string, delta int64) {
	if delta < 0 {
		return
	}
	r.counters.WithLabelValues(topic, function).Add(float64(delta))
}

func (r *Registry) SetGauge(topic, function string, value int64) {
	r.gauges.WithLabelValues(topic, function).Set(float64(value))
}

func (r *Registry) RecordOutcome(topic, operation, outcome string) {
	r.outcomes.WithLabelValues(topic, operation, outcome).Inc()
}

// RecordFailure records "fail" plus, when given, the specific reason.
func (r *Registry) RecordFailure(topic, operation, reason string) {
	r.RecordOutcome(topic, operation, "fail")
	if reason != "" {
		r.RecordOutcome(topic, operation, "fail:"+reason)
	}
}
