package httpmw

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/langline/langline/internal/metrics"
)

// Metrics records per-route request counts, errors and latency.
func Metrics(collector *metrics.Collector) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		collector.ObserveRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
