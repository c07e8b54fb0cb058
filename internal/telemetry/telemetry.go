package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Telemetry owns the tracer and meter providers of the process.
//
// A provider that fails to start leaves the instance degraded: Tracer and
// Meter then fall back to the global (no-op) providers and the service keeps
// running without export.
type Telemetry struct {
	config *Config
	logger *zap.Logger

	tracerProvider *trace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	registry       *prometheus.Registry

	healthy  atomic.Bool
	degraded atomic.Bool
}

// Option configures New.
type Option func(*options)

type options struct {
	logger  *zap.Logger
	tracing []TracerProviderOption
	metrics []MeterProviderOption
}

// WithLogger routes degradation notices and SDK delivery errors to logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithTracerProviderOptions is used by tests to replace the OTLP span
// exporter.
func WithTracerProviderOptions(opts ...TracerProviderOption) Option {
	return func(o *options) { o.tracing = append(o.tracing, opts...) }
}

// WithMeterProviderOptions is used by tests to replace the OTLP metric
// exporter.
func WithMeterProviderOptions(opts ...MeterProviderOption) Option {
	return func(o *options) { o.metrics = append(o.metrics, opts...) }
}

// New validates cfg and starts the providers. Only an invalid config is an
// error; provider failures degrade the instance instead. On success the
// providers and a W3C trace-context propagator are installed globally.
func New(ctx context.Context, cfg *Config, opts ...Option) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}

	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	t := &Telemetry{config: cfg, logger: o.logger}
	t.healthy.Store(true)
	if !cfg.Enabled {
		return t, nil
	}

	RouteErrors(o.logger)

	res, err := newResource(cfg)
	if err != nil {
		t.setDegraded("resource", err)
		return t, nil
	}

	if tp, err := newTracerProvider(ctx, cfg, res, o.tracing...); err != nil {
		t.setDegraded("tracer provider", err)
	} else {
		t.tracerProvider = tp
		otel.SetTracerProvider(tp)
	}

	var registry *prometheus.Registry
	if cfg.Metrics.Prometheus {
		registry = prometheus.NewRegistry()
	}
	switch mp, err := newMeterProvider(ctx, cfg, res, registry, o.metrics...); {
	case err != nil:
		t.setDegraded("meter provider", err)
	case mp != nil:
		t.meterProvider = mp
		t.registry = registry
		otel.SetMeterProvider(mp)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return t, nil
}

// RouteErrors installs a global handler that logs SDK errors, such as failed
// batch exports, at Warn instead of printing them to stderr.
func RouteErrors(logger *zap.Logger) {
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		logger.Warn("opentelemetry error", zap.Error(err))
	}))
}

// Tracer returns a tracer for scope name.
func (t *Telemetry) Tracer(name string, opts ...oteltrace.TracerOption) oteltrace.Tracer {
	if t == nil || t.tracerProvider == nil {
		return otel.GetTracerProvider().Tracer(name, opts...)
	}
	return t.tracerProvider.Tracer(name, opts...)
}

// Meter returns a meter for scope name.
func (t *Telemetry) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	if t == nil || t.meterProvider == nil {
		return otel.GetMeterProvider().Meter(name, opts...)
	}
	return t.meterProvider.Meter(name, opts...)
}

// MetricsHandler serves the Prometheus registry, or nil when the pull
// endpoint is disabled.
func (t *Telemetry) MetricsHandler() http.Handler {
	if t == nil || t.registry == nil {
		return nil
	}
	return newMetricsHandler(t.registry)
}

// ForceFlush exports everything recorded so far.
func (t *Telemetry) ForceFlush(ctx context.Context) error {
	return t.each(func(p provider) error { return p.ForceFlush(ctx) })
}

// Shutdown flushes and stops the providers. Without a deadline on ctx the
// configured shutdown timeout applies.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok && t.config != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.Shutdown.Timeout.Duration())
		defer cancel()
	}
	defer t.healthy.Store(false)
	return t.each(func(p provider) error { return p.Shutdown(ctx) })
}

type provider interface {
	ForceFlush(context.Context) error
	Shutdown(context.Context) error
}

// each applies fn to the running providers and joins their errors.
func (t *Telemetry) each(fn func(provider) error) error {
	if t == nil {
		return nil
	}
	var errs []error
	if t.tracerProvider != nil {
		if err := fn(t.tracerProvider); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider: %w", err))
		}
	}
	if t.meterProvider != nil {
		if err := fn(t.meterProvider); err != nil {
			errs = append(errs, fmt.Errorf("meter provider: %w", err))
		}
	}
	return errors.Join(errs...)
}

// HealthStatus reports telemetry state.
type HealthStatus struct {
	Healthy  bool `json:"healthy"`
	Degraded bool `json:"degraded"`
}

// Health reports whether the instance is running and whether any provider
// failed to start.
func (t *Telemetry) Health() HealthStatus {
	if t == nil {
		return HealthStatus{Degraded: true}
	}
	return HealthStatus{Healthy: t.healthy.Load(), Degraded: t.degraded.Load()}
}

func (t *Telemetry) setDegraded(what string, err error) {
	t.degraded.Store(true)
	t.logger.Warn("telemetry degraded", zap.String("component", what), zap.Error(err))
}
