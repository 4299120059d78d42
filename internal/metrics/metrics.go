// Package metrics exposes Prometheus collectors for the scheduler and
// the engagement engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	registry        prometheus.Registerer
	timersLive      prometheus.Gauge
	jobsTotal       *prometheus.CounterVec
	analysisTotal   *prometheus.CounterVec
	engageDecisions *prometheus.CounterVec
	cacheTotal      *prometheus.CounterVec
}

func Init(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		registry: reg,
		timersLive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "scheduler_timers_live",
				Help:      "Number of armed in-memory timers",
			},
		),
		jobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scheduler_jobs_total",
				Help:      "Total scheduler job transitions",
			},
			[]string{"event"},
		),
		analysisTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "engagement_analysis_total",
				Help:      "Total engagement analysis calls",
			},
			[]string{"status"},
		),
		engageDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "engagement_decisions_total",
				Help:      "Total engagement gate decisions",
			},
			[]string{"decision"},
		),
		cacheTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "engagement_cache_total",
				Help:      "Engagement analysis cache lookups",
			},
			[]string{"result"},
		),
	}

	reg.MustRegister(
		m.timersLive,
		m.jobsTotal,
		m.analysisTotal,
		m.engageDecisions,
		m.cacheTotal,
	)

	return m
}

// Nop returns a metrics instance backed by a throwaway registry,
// for tests and callers that do not export metrics.
func Nop() *Metrics {
	return Init("chime", prometheus.NewRegistry())
}

func (m *Metrics) SetLiveTimers(n int) {
	m.timersLive.Set(float64(n))
}

// RecordJob counts a job transition: scheduled, executed, cancelled,
// abandoned or failed.
func (m *Metrics) RecordJob(event string) {
	m.jobsTotal.WithLabelValues(event).Inc()
}

func (m *Metrics) RecordAnalysis(status string) {
	m.analysisTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordDecision(engaged bool) {
	if engaged {
		m.engageDecisions.WithLabelValues("engage").Inc()
	} else {
		m.engageDecisions.WithLabelValues("skip").Inc()
	}
}

func (m *Metrics) RecordCache(hit bool) {
	if hit {
		m.cacheTotal.WithLabelValues("hit").Inc()
	} else {
		m.cacheTotal.WithLabelValues("miss").Inc()
	}
}
