package obs

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitTracerDisabled(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), TracingConfig{ServiceName: "pricing-api", Exporter: "none"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestInitTracerRejectsUnknownExporter(t *testing.T) {
	_, err := InitTracer(context.Background(), TracingConfig{Exporter: "zipkin"})
	require.ErrorContains(t, err, "zipkin")
}

func TestSamplerClampsRatio(t *testing.T) {
	require.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased{0.25}")
	for _, ratio := range []float64{0, -1, 3} {
		desc := sampler(ratio).Description()
		require.True(t, strings.HasPrefix(desc, "ParentBased{"), desc)
		require.Contains(t, desc, "AlwaysOnSampler", "ratio %v", ratio)
	}
}
