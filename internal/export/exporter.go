// Package export projects profile snapshots onto OpenTelemetry traces and
// metrics.
package export

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/profiled/internal/stats"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// InstrumentationName is the tracer and meter scope used by the exporter.
const InstrumentationName = "github.com/fyrsmithlabs/profiled/internal/export"

// Instrument, span and attribute names.
const (
	SpanName = "profile-stats-export"

	MetricFunctionCalls = "profile.function.calls"
	MetricFunctionTime  = "profile.function.time"
	MetricTotalTime     = "profile.total.time"

	AttrTotalCalls = attribute.Key("profile.total_calls")
	AttrTotalTime  = attribute.Key("profile.total_time")
)

// Exporter records snapshots as histogram observations and span attributes.
// Recording is in-memory; delivery is left to the SDK's batching readers
// and span processors, so Export never blocks on the network.
type Exporter struct {
	tracer trace.Tracer
	logger *zap.Logger

	functionCalls metric.Int64Histogram
	functionTime  metric.Float64Histogram
	totalTime     metric.Float64Histogram
}

// New creates an Exporter and its instruments.
func New(tracer trace.Tracer, meter metric.Meter, logger *zap.Logger) (*Exporter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Exporter{tracer: tracer, logger: logger}

	var err error
	e.functionCalls, err = meter.Int64Histogram(
		MetricFunctionCalls,
		metric.WithDescription("Calls per profiled function, recorded once per export labeled by function.name and function.file."),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating %s histogram: %w", MetricFunctionCalls, err)
	}

	e.functionTime, err = meter.Float64Histogram(
		MetricFunctionTime,
		metric.WithDescription("Self time per profiled function in milliseconds, excluding callees."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating %s histogram: %w", MetricFunctionTime, err)
	}

	e.totalTime, err = meter.Float64Histogram(
		MetricTotalTime,
		metric.WithDescription("Aggregate profiled time in milliseconds as reported by the collector."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating %s histogram: %w", MetricTotalTime, err)
	}

	return e, nil
}

// Export records snap: two observations per function record and one total,
// annotated on a profile-stats-export span.
func (e *Exporter) Export(ctx context.Context, snap stats.Snapshot) {
	ctx, span := e.tracer.Start(ctx, SpanName)
	defer span.End()

	span.SetAttributes(
		AttrTotalCalls.Int64(int64(snap.TotalCalls())),
		AttrTotalTime.Float64(snap.TotalTimeSeconds()),
	)

	records := snap.Records()
	for _, entry := range records {
		attrs := metric.WithAttributeSet(entry.Key.ExportAttributes())
		e.functionCalls.Record(ctx, int64(entry.Record.CallCount), attrs)
		e.functionTime.Record(ctx, entry.Record.TotalTimeSeconds*1000, attrs)
	}
	e.totalTime.Record(ctx, snap.TotalTimeSeconds()*1000)

	e.logger.Debug("profile exported",
		zap.String("snapshot_id", snap.ID().String()),
		zap.Int("functions", len(records)),
		zap.Uint64("total_calls", snap.TotalCalls()),
		zap.Float64("total_time_seconds", snap.TotalTimeSeconds()),
	)
}
