package observability

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	RequestIDHeader = "X-Request-ID"

	// unmatchedRoute labels requests no route matched, so scanners cannot
	// grow the metric label set.
	unmatchedRoute = "unmatched"
)

// RouteGroup is the first segment of the matched route ("/channels" for
// "/channels/refresh"), or "unmatched".
func RouteGroup(c *gin.Context) string {
	full := c.FullPath()
	if full == "" {
		return unmatchedRoute
	}
	first, _, _ := strings.Cut(strings.TrimPrefix(full, "/"), "/")
	return "/" + first
}

// RequestLogger logs one line per API request on the node's "api" component
// logger and echoes a request id back to the caller. Probe routes log at
// debug so /health and /metrics scrapes stay out of the default output.
func RequestLogger(node string) gin.HandlerFunc {
	logger := Logger(node, "api")
	return func(c *gin.Context) {
		start := time.Now()
		reqID := c.GetHeader(RequestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Header(RequestIDHeader, reqID)
		c.Next()

		status := c.Writer.Status()
		group := RouteGroup(c)
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		event := logger.Info()
		switch {
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		case group == "/health" || group == "/metrics" || group == "/ready":
			event = logger.Debug()
		}
		if errs := c.Errors.String(); errs != "" {
			event = event.Str("errors", errs)
		}

		event.
			Str("request_id", reqID).
			Str("method", c.Request.Method).
			Str("route", route).
			Str("group", group).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Int("bytes", c.Writer.Size()).
			Msg("api request")
	}
}

// RequestMetricsMiddleware counts requests per node and route group.
func RequestMetricsMiddleware(node string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		RecordHTTPRequest(node, c.Request.Method, RouteGroup(c), c.Writer.Status(), time.Since(start))
	}
}
