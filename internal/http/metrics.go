package http

import (
	"errors"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// InstrumentationName is the tracer and meter scope of the HTTP layer.
const InstrumentationName = "github.com/fyrsmithlabs/profiled/internal/http"

// requestMetrics records rate, errors and duration per route.
type requestMetrics struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
	size     metric.Int64Histogram
	inFlight metric.Int64UpDownCounter
}

func newRequestMetrics(meter metric.Meter) (*requestMetrics, error) {
	var m requestMetrics
	var err, e error

	m.requests, e = meter.Int64Counter("profiled.http.requests_total",
		metric.WithDescription("HTTP requests by method, endpoint and status."),
		metric.WithUnit("{request}"),
	)
	err = errors.Join(err, e)

	// GET / waits 100ms by default; the buckets bracket that.
	m.duration, e = meter.Float64Histogram("profiled.http.request_duration_seconds",
		metric.WithDescription("HTTP request latency by method, endpoint and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.15, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	err = errors.Join(err, e)

	// Profile reports grow with the number of profiled functions.
	m.size, e = meter.Int64Histogram("profiled.http.response_size_bytes",
		metric.WithDescription("HTTP response body size."),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(100, 500, 1000, 5000, 10000, 50000, 100000, 500000),
	)
	err = errors.Join(err, e)

	m.inFlight, e = meter.Int64UpDownCounter("profiled.http.active_requests",
		metric.WithDescription("HTTP requests currently being served."),
		metric.WithUnit("{request}"),
	)
	err = errors.Join(err, e)

	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *requestMetrics) middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			start := time.Now()
			m.inFlight.Add(ctx, 1)
			defer m.inFlight.Add(ctx, -1)

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			attrs := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("endpoint", endpointLabel(c.Path())),
				attribute.Int("status", c.Response().Status),
			)
			m.requests.Add(ctx, 1, attrs)
			m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
			m.size.Record(ctx, c.Response().Size, attrs)
			return err
		}
	}
}

// endpointLabel bounds the endpoint label to registered routes. Unmatched
// requests have no route and share "/".
func endpointLabel(route string) string {
	if route == "" {
		return "/"
	}
	return route
}
