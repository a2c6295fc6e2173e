package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/picokernel/kernel/internal/shared/id"
)

// RequestIDHeader carries the request ID on both request and response.
const RequestIDHeader = "X-Request-ID"

// requestIDKey is the gin context key for the request ID.
const requestIDKey = "request_id"

// RequestID assigns each request an ID, honoring one supplied by the
// caller so IDs survive proxies and retries.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(RequestIDHeader)
		if rid == "" {
			rid = string(id.NewRequestID())
		}
		c.Set(requestIDKey, rid)
		c.Header(RequestIDHeader, rid)
		c.Next()
	}
}

// GetRequestID returns the ID assigned to this request, if any.
func GetRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}
