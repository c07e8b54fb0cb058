// Package workload runs the representative unit of instrumented work that
// backs GET /.
package workload

import (
	"context"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/profiled/internal/config"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// InstrumentationName is the meter scope used by the worker.
const InstrumentationName = "github.com/fyrsmithlabs/profiled/internal/workload"

// Collector is the part of the call statistics collector the worker needs.
type Collector interface {
	Session(ctx context.Context, fn func(context.Context) error) error
	Enter(ctx context.Context, name string) (context.Context, func())
}

// Config controls the size of one unit of work.
type Config struct {
	Iterations int64           `koanf:"iterations"`
	IODelay    config.Duration `koanf:"io_delay"`
}

// NewDefaultConfig sums 0..999999 and waits 100ms.
func NewDefaultConfig() Config {
	return Config{
		Iterations: 1_000_000,
		IODelay:    config.Duration(100 * time.Millisecond),
	}
}

// Validate checks config for errors.
func (c Config) Validate() error {
	if c.Iterations < 0 {
		return fmt.Errorf("iterations must be >= 0, got %d", c.Iterations)
	}
	if c.IODelay.Duration() < 0 {
		return fmt.Errorf("io_delay must be >= 0, got %s", c.IODelay.Duration())
	}
	return nil
}

// Worker runs instrumented work inside a collector session.
type Worker struct {
	collector Collector
	logger    *zap.Logger
	cfg       Config

	duration metric.Float64Histogram
	calls    metric.Int64Counter
}

// New creates a Worker.
func New(collector Collector, meter metric.Meter, logger *zap.Logger, cfg Config) (*Worker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid workload config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	w := &Worker{collector: collector, logger: logger, cfg: cfg}

	var err error
	w.duration, err = meter.Float64Histogram(
		"function.duration",
		metric.WithDescription("Duration of function execution"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating function.duration histogram: %w", err)
	}

	w.calls, err = meter.Int64Counter(
		"function.calls",
		metric.WithDescription("Number of function calls"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating function.calls counter: %w", err)
	}

	return w, nil
}

// Run executes one unit of work with the collector enabled and returns the
// computed sum. Duration and call metrics are recorded after the session
// ends, whether or not it succeeded. The duration covers the work only, not
// the wait for the session.
func (w *Worker) Run(ctx context.Context) (int64, error) {
	var (
		result  int64
		elapsed time.Duration
	)
	err := w.collector.Session(ctx, func(ctx context.Context) error {
		start := time.Now()
		defer func() { elapsed = time.Since(start) }()

		result = w.sumRange(ctx, w.cfg.Iterations)
		return w.simulateIO(ctx, w.cfg.IODelay.Duration())
	})

	w.duration.Record(ctx, float64(elapsed)/float64(time.Millisecond))
	w.calls.Add(ctx, 1)

	if err != nil {
		w.logger.Warn("workload interrupted", zap.Error(err), zap.Duration("elapsed", elapsed))
		return 0, fmt.Errorf("running workload: %w", err)
	}
	return result, nil
}

// sumRange returns 0 + 1 + ... + n-1.
func (w *Worker) sumRange(ctx context.Context, n int64) int64 {
	_, done := w.collector.Enter(ctx, "sumRange")
	defer done()

	var sum int64
	for i := int64(0); i < n; i++ {
		sum += i
	}
	return sum
}

func (w *Worker) simulateIO(ctx context.Context, d time.Duration) error {
	_, done := w.collector.Enter(ctx, "simulateIO")
	defer done()

	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
