// Package metrics provides Prometheus instrumentation for the fraud
// scoring pipeline.
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
			Namespace: "fraudpipeline",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fraudpipeline",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// TransactionsTotal counts scored transactions by final decision category.
	TransactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraudpipeline",
			Name:      "transactions_total",
			Help:      "Total transactions scored, by decision category.",
		},
		[]string{"decision"},
	)

	// RuleFiredTotal counts how often each rule reason tag fires.
	RuleFiredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraudpipeline",
			Name:      "rule_fired_total",
			Help:      "Total rule firings by reason tag.",
		},
		[]string{"reason"},
	)

	// ScoreEvaluationDuration observes end-to-end scoring latency, spec.md §7's p99 budget.
	ScoreEvaluationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fraudpipeline",
		Name:      "score_evaluation_duration_seconds",
		Help:      "Time to score one transaction end to end, from ingest to decision.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .15, .2, .3, .5, .75, 1},
	})

	// ModelRequestsTotal counts calls to the model service by outcome.
	ModelRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraudpipeline",
			Name:      "model_requests_total",
			Help:      "Total model service calls by outcome (ok, timeout, error, breaker_open).",
		},
		[]string{"outcome"},
	)

	// ModelRequestDuration observes model service call latency.
	ModelRequestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fraudpipeline",
		Name:      "model_request_duration_seconds",
		Help:      "Model service call latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	})

	// DeadLettersTotal counts inbound messages routed to the dead-letter topic.
	DeadLettersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraudpipeline",
			Name:      "dead_letters_total",
			Help:      "Total inbound messages dead-lettered, by reason.",
		},
		[]string{"reason"},
	)

	// SinkPublishRetriesTotal counts the attempts spent by decision sink
	// persist or publish calls that still failed after all their retries.
	SinkPublishRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fraudpipeline",
		Name:      "sink_publish_retries_total",
		Help:      "Total attempts made by decision sink persist or publish calls that exhausted their retries.",
	})

	// SinkRedeliveriesTotal counts inbound messages requeued after a sink
	// failure, by outcome (requeued, exhausted).
	SinkRedeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraudpipeline",
			Name:      "sink_redeliveries_total",
			Help:      "Total inbound messages redelivered after a sink failure, by outcome.",
		},
		[]string{"outcome"},
	)

	// ActiveWebSocketClients tracks connected live-feed WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fraudpipeline",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected live-feed WebSocket clients.",
		},
	)

	// InboundQueueDepth tracks the current depth of the inbound bus topic.
	InboundQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fraudpipeline",
		Name:      "inbound_queue_depth",
		Help:      "Current number of buffered messages on the inbound topic.",
	})

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fraudpipeline", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fraudpipeline", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fraudpipeline", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// DBWaitCount tracks the total number of connections waited for.
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fraudpipeline", Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
	// DBWaitDuration tracks total time waited for connections.
	DBWaitDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fraudpipeline", Name: "db_wait_duration_seconds_total",
		Help: "Total time waited for connections in seconds.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fraudpipeline", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		TransactionsTotal,
		RuleFiredTotal,
		ScoreEvaluationDuration,
		ModelRequestsTotal,
		ModelRequestDuration,
		DeadLettersTotal,
		SinkPublishRetriesTotal,
		SinkRedeliveriesTotal,
		ActiveWebSocketClients,
		InboundQueueDepth,
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
