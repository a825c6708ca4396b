// Package metrics provides Prometheus instrumentation for filestore.
//
// Storage operations are recorded by the storage facade; the HTTP metrics
// are recorded by Middleware in the file server:
//
//	r.Use(metrics.Middleware(nil))
//	r.Get("/metrics", metrics.Handler())
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ─────────────────────────────────────────────
// Storage metrics
// ─────────────────────────────────────────────

var (
	// StorageOps counts facade operations by disk, driver, operation and outcome.
	StorageOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "filestore",
			Subsystem: "storage",
			Name:      "operations_total",
			Help:      "Total storage operations.",
		},
		[]string{"disk", "driver", "operation", "status"}, // status: "ok" | "not_found" | "error"
	)

	// StorageOpDuration tracks backend latency per driver and operation.
	StorageOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "filestore",
			Subsystem: "storage",
			Name:      "operation_duration_seconds",
			Help:      "Duration of storage operations in seconds.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"driver", "operation"},
	)

	// StorageBytesWritten counts bytes accepted by put operations.
	StorageBytesWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "filestore",
			Subsystem: "storage",
			Name:      "bytes_written_total",
			Help:      "Bytes written through put operations.",
		},
		[]string{"disk"},
	)
)

// ─────────────────────────────────────────────
// HTTP metrics
// ─────────────────────────────────────────────

var (
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "filestore",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	RequestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "filestore",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	RequestInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "filestore",
		Subsystem: "http",
		Name:      "requests_in_flight",
		Help:      "Number of HTTP requests currently being served.",
	})

	ResponseSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "filestore",
			Subsystem: "http",
			Name:      "response_size_bytes",
			Help:      "Response body sizes in bytes.",
			Buckets:   []float64{1_000, 10_000, 100_000, 1_000_000, 10_000_000, 100_000_000},
		},
		[]string{"method", "route"},
	)
)

// DefaultRegistry is the Prometheus registry used by filestore.
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(collectors.NewGoCollector())
	DefaultRegistry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	DefaultRegistry.MustRegister(
		StorageOps,
		StorageOpDuration,
		StorageBytesWritten,
		RequestDuration,
		RequestTotal,
		RequestInFlight,
		ResponseSize,
	)
}

// Register lets callers add their own prometheus.Collector to the registry.
func Register(c prometheus.Collector) error {
	return DefaultRegistry.Register(c)
}

// ObserveStorageOp records one storage operation:
//
//	defer func(start time.Time) { metrics.ObserveStorageOp("local", "local", "put", status, start) }(time.Now())
func ObserveStorageOp(disk, driver, operation, status string, start time.Time) {
	StorageOps.WithLabelValues(disk, driver, operation, status).Inc()
	StorageOpDuration.WithLabelValues(driver, operation).Observe(time.Since(start).Seconds())
}

// AddBytesWritten adds n to the written-bytes counter of disk.
func AddBytesWritten(disk string, n int64) {
	if n > 0 {
		StorageBytesWritten.WithLabelValues(disk).Add(float64(n))
	}
}

// ─────────────────────────────────────────────
// HTTP middleware
// ─────────────────────────────────────────────

type responseRecorder struct {
	http.ResponseWriter
	status int
	size   int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.size += n
	return n, err
}

// Middleware records duration, count, in-flight and response size for every
// request. route labels the request; pass nil to use the raw URL path.
func Middleware(route func(*http.Request) string) func(http.Handler) http.Handler {
	if route == nil {
		route = func(r *http.Request) string { return r.URL.Path }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			RequestInFlight.Inc()
			defer RequestInFlight.Dec()

			rr := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rr, r)

			// Resolve after ServeHTTP so routers have filled in their pattern.
			label := route(r)
			status := strconv.Itoa(rr.status)

			RequestDuration.WithLabelValues(r.Method, label, status).Observe(time.Since(start).Seconds())
			RequestTotal.WithLabelValues(r.Method, label, status).Inc()
			ResponseSize.WithLabelValues(r.Method, label).Observe(float64(rr.size))
		})
	}
}

// Handler exposes the registry in Prometheus text and OpenMetrics formats.
func Handler() http.HandlerFunc {
	h := promhttp.HandlerFor(DefaultRegistry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	return h.ServeHTTP
}
