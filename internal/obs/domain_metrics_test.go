package obs_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-pricing/internal/obs"
)

func TestObserveCalculation(t *testing.T) {
	obs.MustRegisterDomainMetrics("pricing_test", prometheus.NewRegistry())

	before := testutil.ToFloat64(obs.PricingRulesSkippedTotal.WithLabelValues("usage_limit_exceeded"))
	obs.ObserveCalculation("simulate", "ok", 0.4, []string{"PERCENTAGE", "FIXED_AMOUNT"}, []string{"usage_limit_exceeded"})
	obs.ObserveCalculation("commit", "error", 0, nil, []string{"usage_limit_exceeded"})

	require.Equal(t, float64(1), testutil.ToFloat64(obs.PricingCalculationsTotal.WithLabelValues("simulate", "ok")))
	require.Equal(t, float64(1), testutil.ToFloat64(obs.PricingCalculationsTotal.WithLabelValues("commit", "error")))
	require.Equal(t, float64(1), testutil.ToFloat64(obs.PricingRulesAppliedTotal.WithLabelValues("PERCENTAGE")))
	require.Equal(t, before+1, testutil.ToFloat64(obs.PricingRulesSkippedTotal.WithLabelValues("usage_limit_exceeded")))

	obs.ObserveCacheLookup("hit")
	require.Equal(t, float64(1), testutil.ToFloat64(obs.PricingCacheLookups.WithLabelValues("hit")))
}
