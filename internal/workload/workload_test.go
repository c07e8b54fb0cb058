package workload

import (
	"context"
	"testing"
	"time"

	"github.com/fyrsmithlabs/profiled/internal/config"
	"github.com/fyrsmithlabs/profiled/internal/profiler"
	"github.com/fyrsmithlabs/profiled/internal/stats"
	"github.com/fyrsmithlabs/profiled/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestWorker(t *testing.T, cfg Config) (*Worker, *profiler.Collector, *telemetry.TestTelemetry) {
	t.Helper()
	tt := telemetry.NewTestTelemetry()
	c := profiler.New()
	w, err := New(c, tt.Meter(InstrumentationName), nil, cfg)
	require.NoError(t, err)
	return w, c, tt
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, NewDefaultConfig().Validate())

	err := Config{Iterations: -1}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "iterations")

	err = Config{IODelay: config.Duration(-time.Second)}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "io_delay")

	_, err = New(profiler.New(), telemetry.NewTestTelemetry().Meter("x"), nil, Config{Iterations: -5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid workload config")
}

func TestWorker_DefaultResult(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.IODelay = 0
	w, c, _ := newTestWorker(t, cfg)

	result, err := w.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(499999500000), result)
	assert.False(t, c.Enabled())
}

func TestWorker_RecordsProfileAndMetrics(t *testing.T) {
	w, c, tt := newTestWorker(t, Config{Iterations: 10, IODelay: config.Duration(5 * time.Millisecond)})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		result, err := w.Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(45), result)
	}

	snap := stats.Build(c)
	names := map[string]stats.FunctionRecord{}
	for _, e := range snap.Records() {
		_, located := e.Key.Location()
		assert.True(t, located, e.Key.Name)
		names[e.Key.Name] = e.Record
	}
	require.Contains(t, names, "sumRange")
	require.Contains(t, names, "simulateIO")
	assert.Equal(t, uint64(2), names["sumRange"].CallCount)
	assert.GreaterOrEqual(t, names["simulateIO"].TotalTimeSeconds, 0.010)
	assert.Equal(t, uint64(4), snap.TotalCalls())

	m, ok := tt.Metric(ctx, t, "function.calls")
	require.True(t, ok)
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(2), sum.DataPoints[0].Value)

	m, ok = tt.Metric(ctx, t, "function.duration")
	require.True(t, ok)
	hist, ok := m.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(2), hist.DataPoints[0].Count)
	assert.GreaterOrEqual(t, hist.DataPoints[0].Sum, 10.0)
}

func TestWorker_CancelledDuringIO(t *testing.T) {
	w, c, _ := newTestWorker(t, Config{Iterations: 10, IODelay: config.Duration(time.Minute)})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	result, err := w.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, result)
	assert.False(t, c.Enabled())
}

func TestWorker_AlreadyEnabledCollector(t *testing.T) {
	w, c, _ := newTestWorker(t, Config{Iterations: 3})
	c.Enable()

	result, err := w.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), result)
}

func TestWorker_DurationExcludesSessionWait(t *testing.T) {
	w, c, tt := newTestWorker(t, Config{Iterations: 10})
	ctx := context.Background()

	started := make(chan struct{})
	held := make(chan struct{})
	go func() {
		defer close(held)
		_ = c.Session(ctx, func(context.Context) error {
			close(started)
			time.Sleep(300 * time.Millisecond)
			return nil
		})
	}()
	<-started

	_, err := w.Run(ctx)
	require.NoError(t, err)
	<-held

	m, ok := tt.Metric(ctx, t, "function.duration")
	require.True(t, ok)
	hist, ok := m.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
	assert.Less(t, hist.DataPoints[0].Sum, 150.0)
}
