// Package observability wraps the Prometheus collectors the pipeline
// reports into. The collectors live in their own registry so embedding
// applications control exactly what they expose.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsConfig holds configuration for the pipeline metrics.
type MetricsConfig struct {
	Namespace string `yaml:"namespace" json:"namespace"`
	Subsystem string `yaml:"subsystem" json:"subsystem"`
}

// DefaultMetricsConfig returns the default configuration.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{Namespace: "tokenflow"}
}

// Metrics bundles the pipeline's Prometheus collectors. A nil *Metrics
// is valid and records nothing, so instrumentation call sites stay
// unconditional.
type Metrics struct {
	registry *prometheus.Registry

	PipelineExecutions *prometheus.CounterVec
	StageDuration      *prometheus.HistogramVec
	ActivePipelines    prometheus.Gauge
	ExtractionFailures *prometheus.CounterVec
	BreakerState       *prometheus.GaugeVec
}

// NewMetrics creates the collectors in a fresh registry.
func NewMetrics(cfg MetricsConfig) *Metrics {
	reg := prometheus.NewRegistry()
	ns := cfg.Namespace
	sub := cfg.Subsystem

	m := &Metrics{
		registry: reg,
		PipelineExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "pipeline_executions_total",
			Help:      "Total number of pipeline executions",
		}, []string{"status"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stage executions in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage", "status"}),
		ActivePipelines: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "active_pipelines",
			Help:      "Number of pipeline executions currently in flight",
		}),
		ExtractionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "extraction_failures_total",
			Help:      "Total number of extraction agent failures",
		}, []string{"agent"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		}, []string{"name"}),
	}

	reg.MustRegister(m.PipelineExecutions, m.StageDuration, m.ActivePipelines,
		m.ExtractionFailures, m.BreakerState)
	return m
}

// Handler returns an HTTP handler serving the metrics registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for additional collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// RecordExecution counts one finished pipeline run.
func (m *Metrics) RecordExecution(status string) {
	if m == nil {
		return
	}
	m.PipelineExecutions.WithLabelValues(status).Inc()
}

// RecordStage observes one stage execution.
func (m *Metrics) RecordStage(stage, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage, status).Observe(d.Seconds())
}

// PipelineStarted marks a run in flight; the returned func marks it
// finished.
func (m *Metrics) PipelineStarted() func() {
	if m == nil {
		return func() {}
	}
	m.ActivePipelines.Inc()
	return m.ActivePipelines.Dec
}

// RecordExtractionFailure counts one extraction agent failure.
func (m *Metrics) RecordExtractionFailure(agentName string) {
	if m == nil {
		return
	}
	m.ExtractionFailures.WithLabelValues(agentName).Inc()
}

// SetBreakerState exports a breaker state transition.
func (m *Metrics) SetBreakerState(name string, state float64) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(name).Set(state)
}
