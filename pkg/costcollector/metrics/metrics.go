package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "kepler_cost_collector"
)

var (
	// NegativeEnergyClamped counts energy readings clamped to zero before cost conversion
	NegativeEnergyClamped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "negative_energy_clamped_total",
			Help:      "Number of negative energy readings clamped to zero before cost conversion",
		},
	)

	// QueryFailures counts failed metric-type queries inside correlation passes
	QueryFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_failures_total",
			Help:      "Number of failed metric queries by scope and metric type",
		},
		[]string{"scope", "metric"},
	)

	// PassDuration measures the latency of correlation passes
	PassDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pass_duration_seconds",
			Help:      "Latency of correlation passes by scope and result",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		},
		[]string{"scope", "result"}, // result: "success", "partial", "failed", "cancelled"
	)

	// PassRecords tracks the number of records produced by the last pass
	PassRecords = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pass_records",
			Help:      "Number of records produced by the most recent correlation pass",
		},
		[]string{"scope"},
	)

	// TotalFallbacks counts records whose total had to be computed from components
	TotalFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "total_fallback_total",
			Help:      "Number of records whose total was summed from components because no direct total was reported",
		},
		[]string{"scope"},
	)

	// EnergyCost tracks the cost of the last collected pass
	EnergyCost = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "energy_cost",
			Help:      "Energy cost of the last collected pass in configured currency",
		},
		[]string{"scope"},
	)

	// CarbonEmissions tracks the carbon estimate of the last collected pass
	CarbonEmissions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "carbon_emissions_kg",
			Help:      "Estimated carbon emissions of the last collected pass in kgCO2eq",
		},
		[]string{"scope"},
	)

	// HealthCheckStatus reports the outcome of each health check (1 = passing)
	HealthCheckStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "health_check_status",
			Help:      "Outcome of the last health check by check name (1 = passing)",
		},
		[]string{"check"}, // "backend", "data"
	)

	// CacheLookups counts cache hits and misses by cache name
	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Number of cache lookups by cache and result",
		},
		[]string{"cache", "result"}, // result: "hit", "miss"
	)
)

// Register registers all collector metrics with reg
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		NegativeEnergyClamped,
		QueryFailures,
		PassDuration,
		PassRecords,
		TotalFallbacks,
		EnergyCost,
		CarbonEmissions,
		HealthCheckStatus,
		CacheLookups,
	)
}
