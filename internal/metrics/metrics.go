// Package metrics provides Prometheus metrics for the exposure reporter.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the reporter.
type Metrics struct {
	CyclesTotal       *prometheus.CounterVec
	CycleDuration     prometheus.Histogram
	RemoteCallsTotal  *prometheus.CounterVec
	RetriesTotal      *prometheus.CounterVec
	TokenReauthsTotal prometheus.Counter
	KPIEventsTotal    *prometheus.CounterVec
	LastSuccess       prometheus.Gauge

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		CyclesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reporter_cycles_total",
				Help: "Reporting cycles by outcome.",
			},
			[]string{"outcome"},
		),
		CycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "reporter_cycle_duration_seconds",
				Help:    "Duration of reporting cycles that passed the gate.",
				Buckets: []float64{0.1, 0.5, 1, 5, 30, 60, 300, 900},
			},
		),
		RemoteCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reporter_remote_calls_total",
				Help: "Remote calls by endpoint and result.",
			},
			[]string{"endpoint", "result"},
		),
		RetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reporter_retries_total",
				Help: "Retries scheduled by operation.",
			},
			[]string{"operation"},
		),
		TokenReauthsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "reporter_token_reauth_total",
				Help: "Device token re-acquisitions after an expired verification.",
			},
		),
		KPIEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reporter_kpi_events_total",
				Help: "KPI events submitted by name and value.",
			},
			[]string{"kpi", "value"},
		),
		LastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "reporter_last_success_timestamp_seconds",
				Help: "Unix time of the last successful cycle.",
			},
		),
		registry: reg,
	}

	reg.MustRegister(m.CyclesTotal)
	reg.MustRegister(m.CycleDuration)
	reg.MustRegister(m.RemoteCallsTotal)
	reg.MustRegister(m.RetriesTotal)
	reg.MustRegister(m.TokenReauthsTotal)
	reg.MustRegister(m.KPIEventsTotal)
	reg.MustRegister(m.LastSuccess)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry (for testing).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordCycle counts a finished cycle.
func (m *Metrics) RecordCycle(outcome string, d time.Duration) {
	m.CyclesTotal.WithLabelValues(outcome).Inc()
	if outcome != "skipped" {
		m.CycleDuration.Observe(d.Seconds())
	}
}

// RecordRemoteCall counts a call to a remote endpoint.
func (m *Metrics) RecordRemoteCall(endpoint, result string) {
	m.RemoteCallsTotal.WithLabelValues(endpoint, result).Inc()
}

// RecordRetry counts a scheduled retry.
func (m *Metrics) RecordRetry(operation string) {
	m.RetriesTotal.WithLabelValues(operation).Inc()
}

// RecordReauth counts a device token re-acquisition.
func (m *Metrics) RecordReauth() {
	m.TokenReauthsTotal.Inc()
}

// RecordKPI counts a submitted KPI event.
func (m *Metrics) RecordKPI(name string, value int) {
	v := "0"
	if value != 0 {
		v = "1"
	}
	m.KPIEventsTotal.WithLabelValues(name, v).Inc()
}

// SetLastSuccess records the time of the last successful cycle.
func (m *Metrics) SetLastSuccess(t time.Time) {
	m.LastSuccess.Set(float64(t.Unix()))
}
