package logger

import (
	"time"

	"github.com/gin-gonic/gin"
)

// GinMiddleware writes one access log line per request.
func GinMiddleware(log Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []Field{
			String("method", c.Request.Method),
			String("path", c.FullPath()),
			Int("status", c.Writer.Status()),
			Duration("latency", time.Since(start)),
			String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, String("errors", c.Errors.String()))
		}

		switch {
		case c.Writer.Status() >= 500:
			log.Error("http request", fields...)
		case c.Writer.Status() >= 400:
			log.Warn("http request", fields...)
		default:
			log.Debug("http request", fields...)
		}
	}
}
