package metricsx

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	statusDeclarations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "container_status_declarations_total",
			Help: "Accepted container status declarations by state and source.",
		},
		[]string{"state", "source"},
	)
	statusThrottled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "container_status_throttled_total",
			Help: "Status declarations rejected by the per-actor throttle.",
		},
	)
	throttleDegraded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "container_throttle_degraded_total",
			Help: "Declarations admitted without throttling because redis was unavailable.",
		},
	)
	wsClients = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ws_connected_clients",
			Help: "Connected websocket clients by center room.",
		},
		[]string{"center"},
	)
	broadcastFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ws_broadcast_failures_total",
			Help: "Websocket broadcasts dropped because of slow or dead clients.",
		},
	)
	auditWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_write_failures_total",
			Help: "Audit log writes that failed.",
		},
	)
	influxWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "influx_write_failures_total",
			Help: "Total InfluxDB write failures.",
		},
	)
	alertsPublished = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "container_alerts_published_total",
			Help: "Stale-container alerts published to kafka.",
		},
	)
	authFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_failures_total",
			Help: "Failed login attempts by reason.",
		},
		[]string{"reason"},
	)
	asynqQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "asynq_queue_depth",
			Help: "Asynq queue depth by queue.",
		},
		[]string{"queue"},
	)
)

func Register() {
	prometheus.MustRegister(httpRequests, httpLatency, statusDeclarations, statusThrottled, throttleDegraded, wsClients, broadcastFailures, auditWriteFailures, influxWriteFailures, alertsPublished, authFailures, asynqQueueDepth)
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(lrw, r)
		status := strconv.Itoa(lrw.statusCode)
		httpRequests.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		httpLatency.WithLabelValues(r.Method, r.URL.Path, status).Observe(time.Since(start).Seconds())
	})
}

func IncStatusDeclaration(state string, source string) {
	statusDeclarations.WithLabelValues(state, source).Inc()
}

func IncStatusThrottled() {
	statusThrottled.Inc()
}

func IncThrottleDegraded() {
	throttleDegraded.Inc()
}

func SetWSClients(center string, n int) {
	wsClients.WithLabelValues(center).Set(float64(n))
}

func IncBroadcastFailure() {
	broadcastFailures.Inc()
}

func IncAuditWriteFailure() {
	auditWriteFailures.Inc()
}

func IncInfluxWriteFailure() {
	influxWriteFailures.Inc()
}

func IncAlertPublished() {
	alertsPublished.Inc()
}

func IncAuthFailure(reason string) {
	authFailures.WithLabelValues(reason).Inc()
}

func SetAsynqQueueDepth(queue string, depth int) {
	asynqQueueDepth.WithLabelValues(queue).Set(float64(depth))
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
