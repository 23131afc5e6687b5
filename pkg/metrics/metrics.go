package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merkle_mint_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "merkle_mint_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "merkle_mint_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Distribution metrics
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merkle_mint_operations_total",
			Help: "Total number of distributor operations by outcome",
		},
		[]string{"operation", "status"}, // operation: "claim", "mint", "free_mint", "set_root", "set_uri"
	)

	UnitsIssuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merkle_mint_units_issued_total",
			Help: "Total number of units issued",
		},
		[]string{"path"}, // "claim", "mint", "free_mint"
	)

	TotalSupply = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "merkle_mint_total_supply",
			Help: "Units issued so far against the supply cap",
		},
	)

	RollbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merkle_mint_rollbacks_total",
			Help: "Operations whose tentative state was restored after a collaborator failed",
		},
		[]string{"operation"},
	)

	RateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "merkle_mint_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
	)
)

// Middleware returns a chi middleware that records HTTP metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// Use the route pattern if available, otherwise use the path
		path := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			path = rctx.RoutePattern()
		}
		if path == "" {
			path = r.URL.Path
		}

		status := strconv.Itoa(ww.Status())
		HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// RecordOperation records the outcome of a distributor operation.
func RecordOperation(operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	OperationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordIssued records units credited through one issuance path and the new supply.
func RecordIssued(path string, units, totalSupply uint64) {
	UnitsIssuedTotal.WithLabelValues(path).Add(float64(units))
	TotalSupply.Set(float64(totalSupply))
}
