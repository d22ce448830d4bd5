package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CacheOperation identifies the cache method being instrumented.
type CacheOperation string

const (
	// CacheOperationLookup records cache lookup calls.
	CacheOperationLookup CacheOperation = "lookup"
	// CacheOperationStore records cache store attempts.
	CacheOperationStore CacheOperation = "store"
)

// CacheLookupOutcome captures the result of a cache lookup.
type CacheLookupOutcome string

const (
	// CacheLookupHit indicates the lookup reused a cached upstream payload.
	CacheLookupHit CacheLookupOutcome = "hit"
	// CacheLookupMiss indicates no cached payload was present.
	CacheLookupMiss CacheLookupOutcome = "miss"
	// CacheLookupError indicates the lookup failed due to an error.
	CacheLookupError CacheLookupOutcome = "error"
)

// FetchOutcome captures the result of one upstream fetch.
type FetchOutcome string

const (
	// FetchOK indicates the upstream returned a usable payload.
	FetchOK FetchOutcome = "ok"
	// FetchDegraded indicates the upstream failed and a placeholder result was
	// substituted.
	FetchDegraded FetchOutcome = "degraded"
)

// Recorder publishes Prometheus metrics for aggregation activity.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	fetches      *prometheus.CounterVec
	fetchLatency *prometheus.HistogramVec

	cacheOperations *prometheus.CounterVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a
// dedicated registry is created so multiple recorders can coexist without
// conflicting with the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	fetches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "omnifeed",
		Subsystem: "upstream",
		Name:      "fetches_total",
		Help:      "Upstream fetches executed by the adapters.",
	}, []string{"source", "outcome"})

	fetchLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "omnifeed",
		Subsystem: "upstream",
		Name:      "fetch_duration_seconds",
		Help:      "Latency distribution for upstream fetches.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
	}, []string{"source", "outcome"})

	cacheOperations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "omnifeed",
		Subsystem: "cache",
		Name:      "operations_total",
		Help:      "Cache operations executed by the adapters.",
	}, []string{"category", "operation", "result"})

	reg.MustRegister(fetches, fetchLatency, cacheOperations)

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return &Recorder{
		gatherer:        reg,
		handler:         handler,
		fetches:         fetches,
		fetchLatency:    fetchLatency,
		cacheOperations: cacheOperations,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests and advanced
// integrations.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveFetch records the outcome and latency of one upstream fetch.
func (r *Recorder) ObserveFetch(source string, outcome FetchOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	sourceLabel := normalizeLabel(source)
	outcomeLabel := string(outcome)
	if outcomeLabel == "" {
		outcomeLabel = string(FetchDegraded)
	}
	r.fetches.WithLabelValues(sourceLabel, outcomeLabel).Inc()
	r.fetchLatency.WithLabelValues(sourceLabel, outcomeLabel).Observe(duration.Seconds())
}

// ObserveCacheLookup records the result of a cache lookup.
func (r *Recorder) ObserveCacheLookup(category string, result CacheLookupOutcome) {
	if r == nil {
		return
	}
	resultLabel := string(result)
	if resultLabel == "" {
		resultLabel = string(CacheLookupMiss)
	}
	r.cacheOperations.WithLabelValues(normalizeLabel(category), string(CacheOperationLookup), resultLabel).Inc()
}

// ObserveCacheStore records the result of a cache store attempt.
func (r *Recorder) ObserveCacheStore(category string, err error) {
	if r == nil {
		return
	}
	result := "stored"
	if err != nil {
		result = "error"
	}
	r.cacheOperations.WithLabelValues(normalizeLabel(category), string(CacheOperationStore), result).Inc()
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
