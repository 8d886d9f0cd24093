// Package metrics provides Prometheus instrumentation for the Connect-Dev platform.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "connectdev",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "connectdev",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// --- Escrow ledger metrics ---

	CallsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "connectdev",
		Name:      "calls_created_total",
		Help:      "Total escrowed calls created on chain.",
	})

	CallsStartedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "connectdev",
		Name:      "calls_started_total",
		Help:      "Total calls marked started on chain.",
	})

	CallsCompletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "connectdev",
		Name:      "calls_completed_total",
		Help:      "Total completion transactions submitted.",
	})

	PaymentsReleasedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "connectdev",
		Name:      "payments_released_total",
		Help:      "Total payments confirmed released to developers.",
	})

	ConfirmationAttemptsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "connectdev",
		Name:      "confirmation_attempts_total",
		Help:      "Total receipt polling attempts during payment confirmation.",
	})

	ConfirmationFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "connectdev",
		Name:      "confirmation_failures_total",
		Help:      "Total payment confirmations that failed or timed out.",
	})

	// --- Session metrics ---

	// SessionsTotal counts session transitions by resulting status.
	SessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "connectdev",
			Name:      "sessions_total",
			Help:      "Total session status transitions by resulting status.",
		},
		[]string{"status"},
	)

	// SessionsEndedTotal counts ended sessions by reason.
	SessionsEndedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "connectdev",
			Name:      "sessions_ended_total",
			Help:      "Total ended sessions by end reason.",
		},
		[]string{"reason"},
	)

	// ActiveSessions tracks sessions currently in the active status.
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "connectdev",
		Name:      "active_sessions",
		Help:      "Number of sessions currently active.",
	})

	// SessionDuration observes actual call duration in seconds.
	SessionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "connectdev",
		Name:      "session_duration_seconds",
		Help:      "Actual call duration from start to end in seconds.",
		Buckets:   []float64{60, 300, 600, 900, 1800, 2700, 3600, 7200},
	})

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "connectdev",
		Name:      "active_websocket_clients",
		Help:      "Number of currently connected WebSocket clients.",
	})

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "connectdev", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "connectdev", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "connectdev", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// DBWaitCount tracks the total number of connections waited for.
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "connectdev", Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
	// DBWaitDuration tracks total time waited for connections.
	DBWaitDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "connectdev", Name: "db_wait_duration_seconds_total",
		Help: "Total time waited for connections in seconds.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "connectdev", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		CallsCreatedTotal,
		CallsStartedTotal,
		CallsCompletedTotal,
		PaymentsReleasedTotal,
		ConfirmationAttemptsTotal,
		ConfirmationFailuresTotal,
		SessionsTotal,
		SessionsEndedTotal,
		ActiveSessions,
		SessionDuration,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		DBWaitCount,
		DBWaitDuration,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			DBWaitCount.Set(float64(stats.WaitCount))
			DBWaitDuration.Set(stats.WaitDuration.Seconds())
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
