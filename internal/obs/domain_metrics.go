package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PricingCalculationsTotal counts calculations by mode and outcome.
	PricingCalculationsTotal *prometheus.CounterVec
	// PricingRulesAppliedTotal counts rule applications by adjustment type.
	PricingRulesAppliedTotal *prometheus.CounterVec
	// PricingRulesSkippedTotal counts skipped candidates by reason.
	PricingRulesSkippedTotal *prometheus.CounterVec
	// PricingCalculationDuration records engine time per calculation in milliseconds.
	PricingCalculationDuration *prometheus.HistogramVec
	// PricingCacheLookups counts result cache lookups by outcome.
	PricingCacheLookups *prometheus.CounterVec
	// PricingUsageReservations counts commit-mode usage reservations by outcome.
	PricingUsageReservations *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers pricing Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PricingCalculationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_calculations_total",
			Help:      "Count of price calculations by mode and outcome.",
		}, []string{"mode", "result"})
		PricingRulesAppliedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_rules_applied_total",
			Help:      "Count of applied price rules by adjustment type.",
		}, []string{"adjustment_type"})
		PricingRulesSkippedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_rules_skipped_total",
			Help:      "Count of skipped candidate rules by reason.",
		}, []string{"reason"})
		PricingCalculationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pricing_calculation_duration_ms",
			Help:      "Rule pipeline latency in milliseconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 50, 100},
		}, []string{"mode"})
		PricingCacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_cache_lookups_total",
			Help:      "Count of price result cache lookups by outcome.",
		}, []string{"result"})
		PricingUsageReservations = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_usage_reservations_total",
			Help:      "Count of committed price calculations by rules reserved.",
		}, []string{"result"})

		PricingCalculationsTotal = registerOrReuse(reg, PricingCalculationsTotal)
		PricingRulesAppliedTotal = registerOrReuse(reg, PricingRulesAppliedTotal)
		PricingRulesSkippedTotal = registerOrReuse(reg, PricingRulesSkippedTotal)
		PricingCalculationDuration = registerOrReuse(reg, PricingCalculationDuration)
		PricingCacheLookups = registerOrReuse(reg, PricingCacheLookups)
		PricingUsageReservations = registerOrReuse(reg, PricingUsageReservations)
	})
}

// ObserveCalculation records one finished calculation. It is a no-op until
// MustRegisterDomainMetrics has run.
func ObserveCalculation(mode, result string, durationMs float64, applied []string, skipped []string) {
	if PricingCalculationsTotal == nil {
		return
	}
	PricingCalculationsTotal.WithLabelValues(mode, result).Inc()
	if result != "ok" {
		return
	}
	PricingCalculationDuration.WithLabelValues(mode).Observe(durationMs)
	for _, kind := range applied {
		PricingRulesAppliedTotal.WithLabelValues(kind).Inc()
	}
	for _, reason := range skipped {
		PricingRulesSkippedTotal.WithLabelValues(reason).Inc()
	}
}

// ObserveCacheLookup records a hit, miss or error on the result cache.
func ObserveCacheLookup(result string) {
	if PricingCacheLookups == nil {
		return
	}
	PricingCacheLookups.WithLabelValues(result).Inc()
}

// ObserveReservation records the outcome of a commit-mode calculation.
func ObserveReservation(result string) {
	if PricingUsageReservations == nil {
		return
	}
	PricingUsageReservations.WithLabelValues(result).Inc()
}
