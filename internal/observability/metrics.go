// Package observability exposes Prometheus metrics for the HTTP API, the
// matchmaking engine and the realtime gateway.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spark_http_requests_total",
			Help: "Total number of HTTP requests processed.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "spark_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	pollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spark_matchmaking_polls_total",
			Help: "Poll results by status.",
		},
		[]string{"status"},
	)
	queueJoinsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "spark_queue_joins_total",
			Help: "Total number of queue joins.",
		},
	)
	sessionsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spark_sessions_created_total",
			Help: "Sessions created, by origin (pairing, timeout, sweeper).",
		},
		[]string{"origin"},
	)
	guestClaimsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spark_guest_claims_total",
			Help: "Guest slot claim attempts by result.",
		},
		[]string{"result"},
	)
	mutualMatchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "spark_mutual_matches_total",
			Help: "Total number of mutual matches.",
		},
	)
	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spark_notifications_total",
			Help: "Realtime notifications by event and delivery path.",
		},
		[]string{"event", "delivery"},
	)
	wsConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "spark_ws_connections",
			Help: "Number of active websocket connections.",
		},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "spark_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		pollsTotal,
		queueJoinsTotal,
		sessionsCreatedTotal,
		guestClaimsTotal,
		mutualMatchesTotal,
		notificationsTotal,
		wsConnections,
		amqpPublishErrorsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func IncPoll(status string) {
	pollsTotal.WithLabelValues(status).Inc()
}

func IncQueueJoin() {
	queueJoinsTotal.Inc()
}

func IncSessionCreated(origin string) {
	sessionsCreatedTotal.WithLabelValues(origin).Inc()
}

func IncGuestClaim(result string) {
	guestClaimsTotal.WithLabelValues(result).Inc()
}

func IncMutualMatch() {
	mutualMatchesTotal.Inc()
}

func IncNotification(event, delivery string) {
	notificationsTotal.WithLabelValues(event, delivery).Inc()
}

func IncWSActive() {
	wsConnections.Inc()
}

func DecWSActive() {
	wsConnections.Dec()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}

// WSConnections exposes the connection gauge for inspection.
func WSConnections() prometheus.Gauge {
	return wsConnections
}
