package obs

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var defaultHTTPBucketsMs = []float64{1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000}

// HTTPMetrics holds the request collectors recorded by HTTPObs.
type HTTPMetrics struct {
	ReqTotal *prometheus.CounterVec
	ReqDur   *prometheus.HistogramVec
	InFlight prometheus.Gauge
}

// NewHTTPMetrics builds the request collectors and registers them on reg, or
// on the default registerer when reg is nil. Collectors already registered
// under the same name are reused.
func NewHTTPMetrics(namespace string, bucketsMs []float64, reg prometheus.Registerer) *HTTPMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if len(bucketsMs) == 0 {
		bucketsMs = defaultHTTPBucketsMs
	}
	bucketsMs = slices.Sorted(slices.Values(bucketsMs))

	return &HTTPMetrics{
		ReqTotal: registerOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Pricing API requests by method, route pattern and status.",
		}, []string{"method", "route", "status"})),
		ReqDur: registerOrReuse(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_ms",
			Help:      "Pricing API latency in milliseconds by method and route pattern.",
			Buckets:   bucketsMs,
		}, []string{"method", "route"})),
		InFlight: registerOrReuse(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_in_flight_requests",
			Help:      "Pricing API requests currently being served.",
		})),
	}
}

// ParseBucketsCSV reads OBS_METRICS_BUCKETS_MS style input ("5,10,25").
// Blank, malformed and non-positive entries are dropped.
func ParseBucketsCSV(csv string) []float64 {
	var out []float64
	for _, part := range strings.Split(csv, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil || v <= 0 {
			continue
		}
		out = append(out, v)
	}
	return out
}

// DurationMillis converts d to fractional milliseconds.
func DurationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// registerOrReuse registers c and returns it, or returns the collector that
// is already registered with the same descriptor.
func registerOrReuse[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	err := reg.Register(c)
	if err == nil {
		return c
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(T); ok {
			return existing
		}
	}
	panic(fmt.Errorf("register metric: %w", err))
}
