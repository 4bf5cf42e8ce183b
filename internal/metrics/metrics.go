package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stock_ledger"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "route"},
	)

	mutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inventory",
			Name:      "mutations_total",
			Help:      "Stock mutations by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	movements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inventory",
			Name:      "movements_total",
			Help:      "Ledger entries appended by direction.",
		},
		[]string{"direction"},
	)

	cascades = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inventory",
			Name:      "cascade_deletes_total",
			Help:      "Cascading deletes by entity and outcome.",
		},
		[]string{"entity", "outcome"},
	)

	resolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "resolutions_total",
			Help:      "Identity resolutions by outcome.",
		},
		[]string{"outcome"},
	)

	audits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "audits_total",
			Help:      "Ledger reconciliations by result.",
		},
		[]string{"result"},
	)

	unbalanced = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "unbalanced_products",
			Help:      "Products whose quantity disagreed with the ledger in the last sweep.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpRequests,
		httpDuration,
		mutations,
		movements,
		cascades,
		resolutions,
		audits,
		unbalanced,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func RecordMutation(operation, outcome string) {
	mutations.WithLabelValues(operation, outcome).Inc()
}

func RecordMovement(direction string) {
	movements.WithLabelValues(direction).Inc()
}

func RecordCascade(entity, outcome string) {
	cascades.WithLabelValues(entity, outcome).Inc()
}

func RecordResolution(outcome string) {
	resolutions.WithLabelValues(outcome).Inc()
}

func RecordAudit(balanced bool) {
	result := "balanced"
	if !balanced {
		result = "drift"
	}
	audits.WithLabelValues(result).Inc()
}

func SetUnbalancedProducts(n int) {
	unbalanced.Set(float64(n))
}

// InstrumentHandler records request counts and latency keyed by the chi route
// pattern, so path parameters do not explode label cardinality.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
