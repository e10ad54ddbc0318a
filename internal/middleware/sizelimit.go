// Package middleware provides HTTP middleware for the edgebb API.
// This file implements request body size limits.
//
// The largest legitimate request is a bbs.cgi form: a 4096-character body
// percent-encoded as Shift_JIS stays far under 64KiB, so the 256KiB bound
// below leaves ample headroom; anything bigger is cut off before the form
// decoder sees it.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// MaxFormBodySize bounds a bbs.cgi POST body.
const MaxFormBodySize = 256 * 1024

// RequestSizeLimiter rejects requests whose declared length exceeds maxSize
// and caps the body reader so a lying Content-Length cannot get around it.
func RequestSizeLimiter(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxSize {
			c.String(http.StatusRequestEntityTooLarge, "Request entity too large")
			c.Abort()
			return
		}

		// Prevents reading more than maxSize bytes even if Content-Length is lying
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)

		c.Next()
	}
}

// DefaultSizeLimiter uses the form body bound.
func DefaultSizeLimiter() gin.HandlerFunc {
	return RequestSizeLimiter(MaxFormBodySize)
}
