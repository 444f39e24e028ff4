package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/not-nullexception/image-orchestrator/internal/logger"
)

// ContextualLogger stores a request logger in the request context. The
// logger carries trace and span ids when tracing is enabled, the request id
// and a component derived from the route.
func ContextualLogger(defaultComponent string) gin.HandlerFunc {
	return func(c *gin.Context) {
		component := defaultComponent
		if routePath := c.FullPath(); routePath != "" {
			component = strings.Trim(strings.ReplaceAll(routePath, "/", "-"), "-")
			if component == "" {
				component = "root"
			}
		}

		requestLogger := logger.GetLoggerWithContext(c.Request.Context(), component)
		if id := c.GetString(RequestIDKey); id != "" {
			requestLogger = requestLogger.With().Str("request_id", id).Logger()
		}

		c.Request = c.Request.WithContext(logger.ToContext(c.Request.Context(), requestLogger))
		c.Next()
	}
}
