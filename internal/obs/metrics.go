package obs

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics shared by all handlers.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Push and relay metrics.
var (
	wsActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ws_active_connections",
		Help: "Currently open websocket push channels.",
	})

	relayEventsPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_events_published_total",
		Help: "Change events published to the broadcast relay.",
	})

	relayEventsReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_events_received_total",
		Help: "Change events received from the broadcast relay.",
	})

	pushDeliveries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "push_deliveries_total",
		Help: "Payloads delivered over push channels.",
	})

	pushFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "push_failures_total",
		Help: "Push channel writes that failed and evicted the channel.",
	})
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		wsActiveConnections, relayEventsPublished, relayEventsReceived,
		pushDeliveries, pushFailures,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

func WSConnOpened() { wsActiveConnections.Inc() }
func WSConnClosed() { wsActiveConnections.Dec() }

func RelayPublished() { relayEventsPublished.Inc() }
func RelayReceived()  { relayEventsReceived.Inc() }

func PushDelivered() { pushDeliveries.Inc() }
func PushFailed()    { pushFailures.Inc() }

// Instrument wraps a handler with RPS/latency/in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter records the response code for metrics labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack keeps websocket upgrades working behind the wrapper.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return hj.Hijack()
}
