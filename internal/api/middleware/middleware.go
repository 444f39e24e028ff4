package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/not-nullexception/image-orchestrator/internal/logger"
)

const (
	RequestIDHeader = "X-Request-ID"
	RequestIDKey    = "request_id"
)

// RequestID propagates the caller's request id or assigns a new one
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}

		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// Logger returns a gin middleware for logging requests
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()
		errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String()

		if raw != "" {
			path = path + "?" + raw
		}

		reqLogger := logger.FromContext(c.Request.Context()).With().
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", statusCode).
			Str("ip", c.ClientIP()).
			Dur("latency", latency).
			Logger()

		switch {
		case statusCode >= 500:
			reqLogger.Error().Str("error", errorMessage).Msg("Server error")
		case statusCode >= 400:
			reqLogger.Warn().Str("error", errorMessage).Msg("Client error")
		default:
			reqLogger.Info().Msg("Request processed")
		}
	}
}
