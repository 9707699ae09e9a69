// Package metrics exposes the service's Prometheus instrumentation: request
// counters, fetch/diff latency histograms, worker pool rebuild counts, and
// the panic-recovery counter every request handler runs under.
package metrics

import (
	"encoding/json"
	"net/http"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/webmonitoring/diffing-service/internal/logging"
)

const namespace = "diffing_service"

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "diff requests handled, by algorithm and outcome",
		},
		[]string{"algorithm", "outcome"},
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "time spent fetching a single upstream resource",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	DiffDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "diff_duration_seconds",
			Help:      "time spent computing a diff in the worker pool",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"algorithm"},
	)

	PoolRebuildsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_rebuilds_total",
			Help:      "diff worker pool rebuilds triggered by a corrupted worker",
		},
	)

	PoolBrokenTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_broken_total",
			Help:      "times the diff worker pool was declared permanently broken",
		},
	)

	panicTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "panic_total",
			Help:      "recovered panics in request handlers",
		},
	)
)

// PanicHandlers mirrors the handler chain a recovered panic runs through:
// count it, then log it with a stack trace.
var PanicHandlers = []func(any){
	incPanicCounter,
	logPanic,
}

func incPanicCounter(_ any) {
	panicTotal.Inc()
}

func logPanic(r any) {
	const size = 64 << 10
	stacktrace := make([]byte, size)
	stacktrace = stacktrace[:runtime.Stack(stacktrace, false)]
	if _, ok := r.(string); ok {
		logging.Errorf("recovered a panic: %s\n%s", r, stacktrace)
	} else {
		logging.Errorf("recovered a panic: %#v (%v)\n%s", r, r, stacktrace)
	}
}

// HandleCrash recovers a panic in the calling goroutine, running every
// registered PanicHandlers entry. Intended to be deferred at the top of
// every HTTP handler so one malformed request cannot take the whole server
// down with it.
func HandleCrash() {
	if r := recover(); r != nil {
		for _, fn := range PanicHandlers {
			fn(r)
		}
	}
}

// HealthHandler answers liveness probes: the service has no external
// dependency to ping (no database, no object store), so a 200 simply means
// the process is accepting connections.
type HealthHandler struct{}

type healthResponse struct {
	Status string `json:"status"`
}

func (h *HealthHandler) HealthCheckHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(healthResponse{Status: "up"})
	}
}
