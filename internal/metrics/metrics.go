// Package metrics holds the Prometheus collectors exported by the hub.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yourorg/marketdata-hub/internal/model"
	"github.com/yourorg/marketdata-hub/internal/reliability"
)

// Resolve outcomes used as the "outcome" label.
const (
	OutcomeHit         = "hit"
	OutcomeFetched     = "fetched"
	OutcomeStale       = "stale"
	OutcomeUnavailable = "unavailable"
)

// Metrics groups every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	resolveTotal     *prometheus.CounterVec
	resolveDuration  *prometheus.HistogramVec
	providerAttempts *prometheus.CounterVec
	providerErrors   *prometheus.CounterVec
	providerScore    *prometheus.GaugeVec
	providerState    *prometheus.GaugeVec
	cacheEntries     prometheus.Gauge
	cacheLookups     *prometheus.CounterVec
	grades           *prometheus.CounterVec
	issues           *prometheus.CounterVec
}

// New creates the collectors and registers them on reg when it is non-nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		resolveTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketdata_resolve_total",
				Help: "Total number of resolutions by category and outcome",
			},
			[]string{"category", "outcome"},
		),
		resolveDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketdata_resolve_duration_seconds",
				Help:    "Resolution duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		providerAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketdata_provider_attempts_total",
				Help: "Total number of fetch attempts per provider",
			},
			[]string{"provider"},
		),
		providerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketdata_provider_errors_total",
				Help: "Total number of failed provider fetches",
			},
			[]string{"provider"},
		),
		providerScore: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "marketdata_provider_score",
				Help: "Rolling reliability score per provider (0-100)",
			},
			[]string{"provider"},
		),
		providerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "marketdata_provider_state",
				Help: "Provider state (0=trusted, 1=degraded, 2=excluded)",
			},
			[]string{"provider"},
		),
		cacheEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "marketdata_cache_entries",
				Help: "Number of cached entries, fresh or stale",
			},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketdata_cache_lookups_total",
				Help: "Cache lookups by result",
			},
			[]string{"result"},
		),
		grades: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketdata_quality_grade_total",
				Help: "Resolved results by quality grade",
			},
			[]string{"grade"},
		),
		issues: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketdata_validation_issues_total",
				Help: "Validation issues by severity",
			},
			[]string{"severity"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.resolveTotal,
			m.resolveDuration,
			m.providerAttempts,
			m.providerErrors,
			m.providerScore,
			m.providerState,
			m.cacheEntries,
			m.cacheLookups,
			m.grades,
			m.issues,
		)
	}
	return m
}

// ObserveResolve records one finished resolution.
func (m *Metrics) ObserveResolve(category model.Category, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.resolveTotal.WithLabelValues(string(category), outcome).Inc()
	m.resolveDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// ProviderAttempt counts one fetch call against a provider.
func (m *Metrics) ProviderAttempt(provider string, attempts int) {
	if m == nil || attempts <= 0 {
		return
	}
	m.providerAttempts.WithLabelValues(provider).Add(float64(attempts))
}

// ProviderError counts one failed provider fetch.
func (m *Metrics) ProviderError(provider string) {
	if m == nil {
		return
	}
	m.providerErrors.WithLabelValues(provider).Inc()
}

// SetProviderScores publishes the tracker's score table.
func (m *Metrics) SetProviderScores(scores []reliability.ProviderScore) {
	if m == nil {
		return
	}
	for _, s := range scores {
		m.providerScore.WithLabelValues(s.ProviderID).Set(s.RollingScore)
		m.providerState.WithLabelValues(s.ProviderID).Set(float64(s.State))
	}
}

// CacheLookup counts a hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// SetCacheEntries publishes the current cache size.
func (m *Metrics) SetCacheEntries(n int) {
	if m == nil {
		return
	}
	m.cacheEntries.Set(float64(n))
}

// ObserveQuality counts a grade and the issues behind it.
func (m *Metrics) ObserveQuality(grade model.Grade, issues []model.ValidationIssue) {
	if m == nil {
		return
	}
	if grade != "" {
		m.grades.WithLabelValues(string(grade)).Inc()
	}
	for _, i := range issues {
		m.issues.WithLabelValues(i.Severity.String()).Inc()
	}
}
