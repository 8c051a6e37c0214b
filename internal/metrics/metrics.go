// Package metrics holds the service's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cardlottery"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	draws = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "draws_total",
			Help:      "Committed draws by outcome.",
		},
		[]string{"outcome"},
	)

	drawRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "draw_rejections_total",
			Help:      "Draw calls that ended without a claim, by reason.",
		},
		[]string{"reason"},
	)

	drawConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "draw_conflicts_total",
			Help:      "Draw attempts lost to a concurrent write.",
		},
	)

	drawAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "draw_attempts",
			Help:      "Attempts needed per committed draw.",
			Buckets:   []float64{1, 2, 3, 5, 8},
		},
	)

	lotteriesCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lotteries_created_total",
			Help:      "Lotteries created.",
		},
	)

	inventoryDrift = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inventory_drift_total",
			Help:      "Lotteries whose stored inventory disagreed with their slots during an audit.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)
)

func init() {
	Registry.MustRegister(
		draws,
		drawRejections,
		drawConflicts,
		drawAttempts,
		lotteriesCreated,
		inventoryDrift,
		httpRequests,
		httpDuration,
	)
}

// Handler exposes the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency per route template.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		httpRequests.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

func RecordDraw(outcome string) { draws.WithLabelValues(outcome).Inc() }
func RecordDrawRejection(reason string) { drawRejections.WithLabelValues(reason).Inc() }
func RecordDrawConflict() { drawConflicts.Inc() }
func ObserveDrawAttempts(n int) { drawAttempts.Observe(float64(n)) }
func RecordLotteryCreated() { lotteriesCreated.Inc() }
func RecordInventoryDrift() { inventoryDrift.Inc() }
