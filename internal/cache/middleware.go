// Package cache is the Redis-backed KV response cache for the edgebb API.
//
// This file implements the Gin middleware that serves and fills the page
// cache for the flat-file endpoints, mirroring the edge cache the protocol
// was designed behind.
//
// Only plain 200 responses to GET requests are cached: a 304 or 206 depends
// on per-request headers and must never be replayed to other clients, so
// requests carrying Range or If-Modified-Since bypass the cache entirely.
package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// bodyCapture tees the response body so a page can be stored after the
// handler ran.
type bodyCapture struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *bodyCapture) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// PageCache returns a Gin middleware over the page cache.
func PageCache(cache *Cache, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet || !cache.IsEnabled() {
			c.Next()
			return
		}
		if c.GetHeader("Range") != "" || c.GetHeader("If-Modified-Since") != "" {
			c.Next()
			return
		}

		key := pageKey(c.Request.URL.RequestURI())

		if page, err := cache.GetPage(c.Request.Context(), key); err == nil && page != nil {
			for name, value := range page.Headers {
				c.Header(name, value)
			}
			c.Header("X-Cache", "HIT")
			c.Data(page.StatusCode, page.ContentType, page.Body)
			c.Abort()
			return
		}

		writer := &bodyCapture{
			ResponseWriter: c.Writer,
			body:           bytes.NewBuffer(nil),
		}
		c.Writer = writer

		c.Next()

		if c.Writer.Status() != http.StatusOK {
			return
		}

		headers := make(map[string]string)
		for name := range c.Writer.Header() {
			headers[name] = c.Writer.Header().Get(name)
		}

		// Cache trouble never fails the request.
		_ = cache.SetPage(c.Request.Context(), key, &Page{
			StatusCode:  c.Writer.Status(),
			ContentType: c.Writer.Header().Get("Content-Type"),
			Headers:     headers,
			Body:        writer.body.Bytes(),
		}, ttl)
	}
}

func pageKey(uri string) string {
	hash := sha256.Sum256([]byte(uri))
	return fmt.Sprintf("page:%s", hex.EncodeToString(hash[:]))
}
