// Package middleware provides HTTP middleware for the edgebb API.
// This file implements structured request logging on zerolog.
//
// Fields logged per request:
// - request_id: correlation ID from the RequestID middleware
// - method, path, status
// - duration_ms: processing time
// - client_ip: the resolved client address
// - user_agent: the legacy clients identify themselves here, so this field
//   matters more than usual for this protocol
//
// Log levels: INFO for 2xx/3xx, WARN for 4xx, ERROR for 5xx.
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/edgebb/edgebb/internal/logger"
)

// StructuredLogger logs every request with structured fields.
func StructuredLogger() gin.HandlerFunc {
	log := logger.Request()
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()

		event := log.Info()
		if status >= 500 {
			event = log.Error()
		} else if status >= 400 {
			event = log.Warn()
		}

		event.
			Str("request_id", GetRequestID(c)).
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Int64("duration_ms", duration.Milliseconds()).
			Str("client_ip", c.ClientIP()).
			Str("user_agent", c.Request.UserAgent())

		if len(c.Errors) > 0 {
			event.Str("errors", c.Errors.String())
		}
		event.Msg("request")
	}
}
