// Package observability holds the Prometheus instruments of the bot.
package observability

import (
	"net/http"
	"time"

	"memoria/pkg/memoria"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the bot.
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	PipelineOutcomes *prometheus.CounterVec
	StageDuration    *prometheus.HistogramVec
	SummaryRequests  *prometheus.CounterVec
}

// NewMetrics registers every instrument under namespace in a dedicated registry.
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		PipelineOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_outcomes_total",
			Help:      "Voice-message pipelines by terminal outcome.",
		}, []string{"outcome"}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_seconds",
			Help:      "Duration of voice-message pipeline stages.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		}, []string{"stage"}),
		SummaryRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summary_requests_total",
			Help:      "Summary commands by period and outcome.",
		}, []string{"period", "outcome"}),
	}
}

// ObserveOutcome counts one finished pipeline.
func (m *Metrics) ObserveOutcome(outcome string) {
	if m == nil {
		return
	}
	m.PipelineOutcomes.WithLabelValues(outcome).Inc()
}

// ObserveStage records how long one pipeline stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveSummary counts one summary request.
func (m *Metrics) ObserveSummary(period string, outcome string) {
	if m == nil {
		return
	}
	m.SummaryRequests.WithLabelValues(period, outcome).Inc()
}

// Gatherer exposes the registry for tests and exporters.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.NewRegistry()
	}

	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Gatherer(), promhttp.HandlerOpts{})
}

var _ memoria.PipelineMetrics = (*Metrics)(nil)
