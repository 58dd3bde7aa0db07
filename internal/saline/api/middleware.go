package api

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/salinechat/saline/common/trace"
)

// TraceMiddleware assigns each request a trace id, propagates it through the
// request context, echoes it in the X-Trace-Id header, and logs one line per
// request.
func TraceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader("X-Trace-Id")
		if traceID == "" {
			traceID = trace.GenerateID()
		}
		c.Request = c.Request.WithContext(trace.WithTraceID(c.Request.Context(), traceID))
		c.Header("X-Trace-Id", traceID)

		start := time.Now()
		c.Next()

		slog.Info("http request",
			"trace_id", traceID,
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
