package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	clientRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meetsync_client_requests_total",
			Help: "Total number of backend requests issued by the client, by operation class and status.",
		},
		[]string{"class", "status"},
	)
	clientRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "meetsync_client_request_duration_seconds",
			Help:    "Backend request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"class"},
	)
	clientThrottledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meetsync_client_throttled_total",
			Help: "Requests answered with 429 or short-circuited by an open backoff window.",
		},
		[]string{"class", "source"},
	)
	outboxDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "meetsync_outbox_depth",
			Help: "Number of messages waiting in the outbox.",
		},
	)
	outboxResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meetsync_outbox_results_total",
			Help: "Outbox send attempts by result.",
		},
		[]string{"result"},
	)
	pollTicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meetsync_poll_ticks_total",
			Help: "Poller ticks by conversation kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
	qaEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meetsync_qa_events_total",
			Help: "Total number of live Q&A websocket events.",
		},
		[]string{"side", "event"},
	)
	qaActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "meetsync_qa_active_connections",
			Help: "Number of open Q&A websocket connections on the reference backend.",
		},
	)
	serverRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meetsync_server_http_requests_total",
			Help: "Total number of HTTP requests processed by the reference backend.",
		},
		[]string{"method", "route", "status"},
	)
	serverRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "meetsync_server_http_request_duration_seconds",
			Help:    "Reference backend HTTP latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "meetsync_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		clientRequestsTotal,
		clientRequestDuration,
		clientThrottledTotal,
		outboxDepth,
		outboxResultsTotal,
		pollTicksTotal,
		qaEventsTotal,
		qaActiveConnections,
		serverRequestsTotal,
		serverRequestDuration,
		amqpPublishErrorsTotal,
	)
}

// ObserveRequest records one client request. status 0 means a transport failure.
func ObserveRequest(class string, status int, elapsed time.Duration) {
	clientRequestsTotal.WithLabelValues(class, strconv.Itoa(status)).Inc()
	clientRequestDuration.WithLabelValues(class).Observe(elapsed.Seconds())
}

// IncThrottled counts a throttle; source is "server" for a 429, "local" for a short-circuit.
func IncThrottled(class, source string) {
	clientThrottledTotal.WithLabelValues(class, source).Inc()
}

func SetOutboxDepth(n int) {
	outboxDepth.Set(float64(n))
}

func IncOutboxResult(result string) {
	outboxResultsTotal.WithLabelValues(result).Inc()
}

func IncPollTick(kind, outcome string) {
	pollTicksTotal.WithLabelValues(kind, outcome).Inc()
}

func IncQAEvent(side, event string) {
	qaEventsTotal.WithLabelValues(side, event).Inc()
}

func IncQAActive() {
	qaActiveConnections.Inc()
}

func DecQAActive() {
	qaActiveConnections.Dec()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}

// HTTPMetricsMiddleware records request counts and latencies for the reference backend.
func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		serverRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		serverRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}
