// Package metrics provides prometheus collectors for the audit pipeline.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds the pipeline's prometheus instruments.
type Collector struct {
	EvaluationsTotal    *prometheus.CounterVec
	EvaluationDuration  *prometheus.HistogramVec
	AgentFailuresTotal  *prometheus.CounterVec
	CacheHitsTotal      *prometheus.CounterVec
	CacheMissesTotal    *prometheus.CounterVec
	FallbackSwitches    *prometheus.CounterVec
	ProviderFlagsSet    *prometheus.CounterVec
	LockContentionTotal prometheus.Counter
	RemediationsTotal   *prometheus.CounterVec
}

// NewCollector registers the pipeline instruments on reg. Pass a fresh
// registry in tests to avoid duplicate registration.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		EvaluationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "evaluations_total",
			Help: "Content item evaluations by outcome.",
		}, []string{"outcome"}),
		EvaluationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "evaluation_duration_seconds",
			Help:    "End-to-end evaluation latency per item.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"content_type"}),
		AgentFailuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "agent_failures_total",
			Help: "Reviewer agent calls that failed after all fallbacks.",
		}, []string{"agent"}),
		CacheHitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_hits_total",
			Help: "Response cache hits by reviewer.",
		}, []string{"reviewer"}),
		CacheMissesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_misses_total",
			Help: "Response cache misses by reviewer.",
		}, []string{"reviewer"}),
		FallbackSwitches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "fallback_switches_total",
			Help: "Provider switches performed by the fallback chain.",
		}, []string{"from", "to"}),
		ProviderFlagsSet: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "provider_flags_set_total",
			Help: "Provider-unavailable flags set after quota failures.",
		}, []string{"provider"}),
		LockContentionTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "lock_contention_total",
			Help: "Items skipped because another worker held the lock.",
		}),
		RemediationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "remediations_total",
			Help: "Improvement driver outcomes per item.",
		}, []string{"outcome"}),
	}
}
