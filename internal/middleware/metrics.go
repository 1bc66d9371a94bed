package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/clinedtrack/attendance-api/internal/service"
)

// Metrics captures per-request latency and status counts.
func Metrics(metrics *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metrics == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		metrics.ObserveHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
