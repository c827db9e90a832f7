package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	reqTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	reqInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_inflight",
			Help: "In-flight HTTP requests",
		},
	)

	reqDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	liveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "subscriber_connections",
			Help: "Currently connected status subscribers",
		},
	)

	broadcastsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcasts_total",
			Help: "Status payload fan-outs performed",
		},
	)

	sendFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcast_send_failures_total",
			Help: "Subscriber connections dropped during fan-out",
		},
	)

	cacheRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "user_cache_refreshes_total",
			Help: "User snapshot cache reloads by result",
		},
		[]string{"result"},
	)

	cacheUsers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "user_cache_records",
			Help: "User records in the current cache snapshot",
		},
	)

	storeErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_errors_total",
			Help: "Store adapter failures by operation",
		},
		[]string{"op"},
	)
)

func init() {
	Registry.MustRegister(reqTotal, reqInFlight, reqDuration,
		liveConnections, broadcastsTotal, sendFailuresTotal,
		cacheRefreshTotal, cacheUsers, storeErrorsTotal)
}

// SetLiveConnections gauges the current subscriber count
func SetLiveConnections(n int) { liveConnections.Set(float64(n)) }

// IncBroadcasts counts one completed fan-out
func IncBroadcasts() { broadcastsTotal.Inc() }

// IncSendFailures counts one subscriber dropped during fan-out
func IncSendFailures() { sendFailuresTotal.Inc() }

// ObserveCacheRefresh records a snapshot reload attempt
func ObserveCacheRefresh(ok bool, records int) {
	if ok {
		cacheRefreshTotal.WithLabelValues("ok").Inc()
		cacheUsers.Set(float64(records))
		return
	}
	cacheRefreshTotal.WithLabelValues("error").Inc()
}

// IncStoreError counts a store adapter failure for an operation
func IncStoreError(op string) { storeErrorsTotal.WithLabelValues(op).Inc() }

// Middleware instruments HTTP requests
func Middleware(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqInFlight.Inc()
		defer reqInFlight.Dec()

		rw := &statusRecorder{ResponseWriter: w, status: 200}
		next.ServeHTTP(rw, r)

		dur := time.Since(start).Seconds()
		reqDuration.WithLabelValues(r.Method, route).Observe(dur)
		reqTotal.WithLabelValues(r.Method, route, http.StatusText(rw.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Handler returns a promhttp handler for the Registry
func Handler() http.Handler { return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{}) }
