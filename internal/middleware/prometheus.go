package middleware

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Vivekkumarprince1/vaani-sub000/pkg/logger"
	"github.com/Vivekkumarprince1/vaani-sub000/pkg/metrics"
)

// PrometheusMiddleware records request counts, latency and in-flight gauge
// for every HTTP request
type PrometheusMiddleware struct {
	metrics *metrics.Metrics
}

// NewPrometheusMiddleware creates a new Prometheus middleware
func NewPrometheusMiddleware(m *metrics.Metrics) *PrometheusMiddleware {
	return &PrometheusMiddleware{metrics: m}
}

// Handler returns the Gin middleware handler
func (p *PrometheusMiddleware) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p.metrics.IncrementHTTPRequestsInFlight()
		defer p.metrics.DecrementHTTPRequestsInFlight()

		start := time.Now()
		c.Next()

		p.metrics.RecordHTTPRequest(
			c.Request.Method,
			c.FullPath(),
			c.Writer.Status(),
			time.Since(start),
		)
	}
}

// MetricsHandler serves the Prometheus scrape endpoint. A collector panic
// is reported as a body while keeping the endpoint itself alive, so a
// scrape never takes down liveness alongside it.
func MetricsHandler() gin.HandlerFunc {
	handler := promhttp.Handler()
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Metrics handler panic",
					zap.Any("panic", r),
					zap.String("stack", string(debug.Stack())))
				c.String(http.StatusOK, "# metrics collection error\n")
				c.Abort()
			}
		}()
		handler.ServeHTTP(c.Writer, c.Request)
	}
}
