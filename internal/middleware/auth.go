package middleware

import (
	"crypto/subtle"
	"net/http"
	"time"

	"membership-api/internal/response"
	"membership-api/pkg/logging"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestIDHeader is echoed back on every response.
const RequestIDHeader = "X-Request-ID"

// AdminAuthMiddleware protects operator routes with a static API key
func AdminAuthMiddleware(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			response.AbortJSON(c, http.StatusServiceUnavailable, "Admin API is disabled")
			return
		}

		// Header first, query parameter as a fallback for quick curl checks
		key := c.GetHeader("X-API-Key")
		if key == "" {
			key = c.Query("api_key")
		}

		if key == "" {
			response.AbortJSON(c, http.StatusUnauthorized, "Missing api_key")
			return
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) != 1 {
			logging.Warnf("Rejected admin request from %s to %s", c.ClientIP(), c.FullPath())
			response.AbortJSON(c, http.StatusUnauthorized, "Invalid api_key")
			return
		}

		c.Set("request_time", time.Now())
		c.Next()
	}
}

// RequestID tags each request with an id, reusing the caller's if present
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set(response.RequestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// RequestLogger logs one structured line per request
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger := logging.WithFields(map[string]interface{}{
			"request_id": c.GetString(response.RequestIDKey),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
			"client_ip":  c.ClientIP(),
		})
		logger.Info().Msg("request")
	}
}
