package slogging

import (
	"log/slog"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
)

// LoggerMiddleware returns a Gin middleware for logging requests using slog
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := Get()

		logger.DebugCtx(c.Request.Context(), "Request started",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
		)

		start := time.Now()
		c.Next()
		latency := time.Since(start)

		statusCode := c.Writer.Status()
		logAttrs := []slog.Attr{
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status_code", statusCode),
			slog.Duration("duration", latency),
			slog.Int64("response_size", int64(c.Writer.Size())),
		}

		switch {
		case statusCode >= 500:
			logger.ErrorCtx(c.Request.Context(), "Request completed with server error", logAttrs...)
		case statusCode >= 400:
			logger.WarnCtx(c.Request.Context(), "Request completed with client error", logAttrs...)
		default:
			logger.InfoCtx(c.Request.Context(), "Request completed successfully", logAttrs...)
		}
	}
}

// Recoverer creates middleware for recovering from panics using slog
func Recoverer() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger := Get()

				buf := make([]byte, 2048)
				n := runtime.Stack(buf, false)

				logger.ErrorCtx(c.Request.Context(), "Panic recovered",
					slog.Any("panic_value", err),
					slog.String("stack_trace", string(buf[:n])),
					slog.String("method", c.Request.Method),
					slog.String("path", c.Request.URL.Path),
				)

				c.AbortWithStatus(500)
			}
		}()
		c.Next()
	}
}
