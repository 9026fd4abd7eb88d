package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/irfndi/crypto-insight-go/internal/logging"
	"github.com/irfndi/crypto-insight-go/internal/metrics"
)

// RequestLogger logs every request, records its metrics and copies handler
// errors onto the active span. Either dependency may be nil.
func RequestLogger(logger *logging.StandardLogger, mc *metrics.MetricsCollector) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		for _, ginErr := range c.Errors {
			RecordError(c, ginErr.Err, "request failed")
		}
		if logger != nil {
			logger.LogAPIRequest(c.Request.Method, route, status, duration.Milliseconds(), GetRequestID(c))
		}
		mc.RecordAPIRequestMetrics(c.Request.Method, route, status, duration)
	}
}
