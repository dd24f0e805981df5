package resources

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type HTTPMetrics struct {
	reqs     metric.Int64Counter
	inflight metric.Int64UpDownCounter
	latency  metric.Float64Histogram
}

func NewHTTPMetrics(name string) *HTTPMetrics {
	meter := otel.Meter(name)

	reqs, _ := meter.Int64Counter(
		"http.server.requests",
		metric.WithDescription("HTTP requests"),
	)
	inflight, _ := meter.Int64UpDownCounter(
		"http.server.active_requests",
		metric.WithDescription("HTTP requests in flight, open WebSocket streams included"),
	)
	latency, _ := meter.Float64Histogram(
		"http.server.duration.ms",
		metric.WithDescription("HTTP request duration in milliseconds"),
	)

	return &HTTPMetrics{reqs: reqs, inflight: inflight, latency: latency}
}

func (m *HTTPMetrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		ctx := c.Request.Context()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		routeAttr := metric.WithAttributes(attribute.String("http.route", route))
		m.inflight.Add(ctx, 1, routeAttr)
		defer m.inflight.Add(ctx, -1, routeAttr)

		c.Next()

		status := c.Writer.Status()

		attrs := metric.WithAttributes(
			attribute.String("http.route", route),
			attribute.String("http.method", c.Request.Method),
			attribute.Int("http.status_code", status),
			attribute.String("http.status_class", strconv.Itoa(status/100)+"xx"),
		)

		m.reqs.Add(ctx, 1, attrs)
		m.latency.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
	}
}

func TracerMiddleware(name string) gin.HandlerFunc {
	return otelgin.Middleware(name)
}

func MeterMiddleware(name string) gin.HandlerFunc {
	return NewHTTPMetrics(name).Middleware()
}
