package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pmbots",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pmbots",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distributions.",
			Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1.0, 2.0, 5.0},
		},
		[]string{"method", "path"},
	)

	CacheRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pmbots",
			Name:      "cache_requests_total",
			Help:      "Namespaced cache lookups by result (hit, miss, error).",
		},
		[]string{"namespace", "result"},
	)

	BotTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pmbots",
			Name:      "bot_transitions_total",
			Help:      "Bot enable/disable transitions by reason.",
		},
		[]string{"action", "reason"},
	)

	WalletActivations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pmbots",
			Name:      "wallet_activations_total",
			Help:      "Finished wallet activations by outcome.",
		},
		[]string{"status"},
	)

	ExternalErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pmbots",
			Name:      "external_errors_total",
			Help:      "Failed calls to external collaborators.",
		},
		[]string{"service", "op"},
	)
)

var registerOnce sync.Once

// Register adds all collectors to the default registry. Safe to call more
// than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			CacheRequests,
			BotTransitions,
			WalletActivations,
			ExternalErrors,
		)
	})
}

// GinMiddleware records request counts and latency by route template.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		c.Next()
		if path == "" || path == "/metrics" {
			return
		}
		status := strconv.Itoa(c.Writer.Status())
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
