// Package metrics provides Prometheus instrumentation for the transaction pipeline.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stockhaul",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "stockhaul",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// OffersTotal counts offer lifecycle transitions by resulting status.
	OffersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stockhaul",
			Name:      "offers_total",
			Help:      "Total offer transitions by resulting status.",
		},
		[]string{"status"},
	)

	// TripsTotal counts trip state-machine transitions by resulting status.
	TripsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stockhaul",
			Name:      "trips_total",
			Help:      "Total trip transitions by resulting status.",
		},
		[]string{"status"},
	)

	// PaymentsTotal counts escrow payment transitions by resulting status.
	PaymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stockhaul",
			Name:      "payments_total",
			Help:      "Total escrow payment transitions by resulting status.",
		},
		[]string{"status"},
	)

	// DisputesTotal counts dispute transitions by resulting status.
	DisputesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stockhaul",
			Name:      "disputes_total",
			Help:      "Total dispute transitions by resulting status.",
		},
		[]string{"status"},
	)

	// AutoReleasedTotal counts payments released by the sweep.
	AutoReleasedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stockhaul",
		Name:      "payments_auto_released_total",
		Help:      "Total escrow payments released by the auto-release sweep.",
	})

	// ProviderWebhooksTotal counts provider webhook deliveries by outcome.
	ProviderWebhooksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stockhaul",
			Name:      "provider_webhooks_total",
			Help:      "Total provider webhook deliveries by outcome.",
		},
		[]string{"outcome"},
	)

	// WebhookDeliveriesTotal counts outbound webhook delivery attempts by result.
	WebhookDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stockhaul",
			Name:      "webhook_deliveries_total",
			Help:      "Total outbound webhook deliveries by result.",
		},
		[]string{"result"},
	)

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "stockhaul",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "stockhaul", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "stockhaul", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "stockhaul", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		OffersTotal,
		TripsTotal,
		PaymentsTotal,
		DisputesTotal,
		AutoReleasedTotal,
		ProviderWebhooksTotal,
		WebhookDeliveriesTotal,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBInUseConnections,
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
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware records request counts and latency per route pattern.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		// Use the route pattern, not the raw path, to bound cardinality.
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		status := strconv.Itoa(c.Writer.Status())
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler returns the Prometheus scrape endpoint handler.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
