package http

import (
	"github.com/prometheus/client_golang/prometheus"
	io_prometheus_client "github.com/prometheus/client_model/go"
)

// MetricsRegistry holds the Prometheus metrics for the adaptive core. Each
// server owns its registry so tests never collide on the default one.
type MetricsRegistry struct {
	registry *prometheus.Registry

	DecisionDuration *prometheus.HistogramVec
	CacheHits        *prometheus.CounterVec
	CacheMisses      *prometheus.CounterVec
	CacheHitRatio    prometheus.Gauge

	GateTransitions *prometheus.CounterVec
	OpenGates       prometheus.Gauge

	RegimeSwitches *prometheus.CounterVec

	EventsIngested      prometheus.Counter
	EventsDeduplicated  prometheus.Counter
	OpportunitiesFound  prometheus.Counter
	ActiveOpportunities prometheus.Gauge
}

// NewMetricsRegistry builds and registers every metric.
func NewMetricsRegistry() *MetricsRegistry {
	m := &MetricsRegistry{
		registry: prometheus.NewRegistry(),

		DecisionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "repricer_decision_duration_seconds",
				Help:    "Latency of decide calls by decision source",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"source"},
		),
		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "repricer_cache_hits_total",
				Help: "Decision cache hits by cache type",
			},
			[]string{"cache_type"},
		),
		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "repricer_cache_misses_total",
				Help: "Decision cache misses by cache type",
			},
			[]string{"cache_type"},
		),
		CacheHitRatio: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "repricer_cache_hit_ratio",
				Help: "Decision cache hit ratio (0.0 to 1.0)",
			},
		),
		GateTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "repricer_gate_transitions_total",
				Help: "Safety gate state transitions by resulting state",
			},
			[]string{"to"},
		),
		OpenGates: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "repricer_open_gates",
				Help: "Number of entities currently gated open",
			},
		),
		RegimeSwitches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "repricer_regime_switches_total",
				Help: "Regime transitions by resulting regime",
			},
			[]string{"to"},
		),
		EventsIngested: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "repricer_events_ingested_total",
				Help: "Domain events applied to the aggregates",
			},
		),
		EventsDeduplicated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "repricer_events_deduplicated_total",
				Help: "Duplicate events suppressed by the ingest pipeline",
			},
		),
		OpportunitiesFound: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "repricer_opportunities_detected_total",
				Help: "Micro-opportunities emitted by the detector",
			},
		),
		ActiveOpportunities: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "repricer_active_opportunities",
				Help: "Currently visible non-expired opportunities",
			},
		),
	}

	m.registry.MustRegister(
		m.DecisionDuration,
		m.CacheHits, m.CacheMisses, m.CacheHitRatio,
		m.GateTransitions, m.OpenGates,
		m.RegimeSwitches,
		m.EventsIngested, m.EventsDeduplicated,
		m.OpportunitiesFound, m.ActiveOpportunities,
	)
	return m
}

// RecordCacheHit updates hit counters and refreshes the ratio gauge.
func (m *MetricsRegistry) RecordCacheHit(cacheType string) {
	m.CacheHits.WithLabelValues(cacheType).Inc()
	m.updateCacheHitRatio()
}

// RecordCacheMiss updates miss counters and refreshes the ratio gauge.
func (m *MetricsRegistry) RecordCacheMiss(cacheType string) {
	m.CacheMisses.WithLabelValues(cacheType).Inc()
	m.updateCacheHitRatio()
}

// updateCacheHitRatio reads the counters back through the client_model types
// and publishes the combined ratio.
func (m *MetricsRegistry) updateCacheHitRatio() {
	hitMetric := &io_prometheus_client.Metric{}
	missMetric := &io_prometheus_client.Metric{}

	totalHits := 0.0
	totalMisses := 0.0
	for _, cacheType := range []string{"decision"} {
		if c, err := m.CacheHits.GetMetricWithLabelValues(cacheType); err == nil {
			if err := c.Write(hitMetric); err == nil {
				totalHits += hitMetric.GetCounter().GetValue()
			}
		}
		if c, err := m.CacheMisses.GetMetricWithLabelValues(cacheType); err == nil {
			if err := c.Write(missMetric); err == nil {
				totalMisses += missMetric.GetCounter().GetValue()
			}
		}
	}

	if total := totalHits + totalMisses; total > 0 {
		m.CacheHitRatio.Set(totalHits / total)
	}
}

// Registry exposes the underlying prometheus registry for the /metrics
// handler.
func (m *MetricsRegistry) Registry() *prometheus.Registry {
	return m.registry
}
