// Package metrics exposes the assistant's Prometheus instruments.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pipeline stages timed by StageDuration.
const (
	StageSchema   = "schema"
	StageAnalyze  = "analyze"
	StageDispatch = "dispatch"
	StageFormat   = "format"
	StageEnhance  = "enhance"
	StageSQL      = "sql"
)

type Metrics struct {
	reg *prometheus.Registry

	StageDuration      *prometheus.HistogramVec
	Queries            *prometheus.CounterVec
	IntentFallbacks    *prometheus.CounterVec
	EnhancementOutcome *prometheus.CounterVec
	GuardVerdicts      *prometheus.CounterVec
	HTTPRequests       *prometheus.CounterVec
	HTTPDuration       *prometheus.HistogramVec
}

// New registers every instrument on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fieldhand_stage_duration_seconds",
			Help:    "Duration of each assistant pipeline stage in seconds",
			Buckets: []float64{.005, .025, .1, .25, .5, 1, 2.5, 5, 10, 20},
		}, []string{"stage"}),
		Queries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldhand_queries_total",
			Help: "Assistant queries by resolved intent and outcome",
		}, []string{"intent", "outcome"}),
		IntentFallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldhand_intent_fallbacks_total",
			Help: "Classifications that fell back to the default intent",
		}, []string{"fallback"}),
		EnhancementOutcome: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldhand_enhancement_total",
			Help: "Response enhancement attempts by outcome",
		}, []string{"outcome"}),
		GuardVerdicts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldhand_sql_verdicts_total",
			Help: "Generated SQL statements by audit verdict",
		}, []string{"verdict"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldhand_http_requests_total",
			Help: "HTTP requests by route pattern and status code",
		}, []string{"route", "code"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name: "fieldhand_http_request_duration_seconds",
			Help: "HTTP request latency by route pattern",
		}, []string{"route"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Time starts a stage timer; call the returned func when the stage ends.
// Safe on a nil receiver.
func (m *Metrics) Time(stage string) func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		m.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) ObserveQuery(intent, outcome string) {
	if m == nil {
		return
	}
	m.Queries.WithLabelValues(intent, outcome).Inc()
}

func (m *Metrics) ObserveFallback(fallback string) {
	if m == nil {
		return
	}
	m.IntentFallbacks.WithLabelValues(fallback).Inc()
}

func (m *Metrics) ObserveEnhancement(outcome string) {
	if m == nil {
		return
	}
	m.EnhancementOutcome.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveVerdict(verdict string) {
	if m == nil {
		return
	}
	m.GuardVerdicts.WithLabelValues(verdict).Inc()
}

func (m *Metrics) ObserveHTTP(route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, statusText(code)).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(d.Seconds())
}

func statusText(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
