package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/threat-exchange/threat-exchange/internal/telemetry"
)

// MetricsMiddleware records http_requests_total and http_request_duration_seconds for
// every request. The path label is the matched route template (/api/v1/campaigns/:id),
// or "<no-route>" for 404/405 so unmatched URLs cannot grow label cardinality.
//
// Register it after gin.Recovery() so statuses written by recovery are counted.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "<no-route>"
		}

		duration := time.Since(start).Seconds()
		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())

		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}
