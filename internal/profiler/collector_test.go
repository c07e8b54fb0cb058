package profiler

import (
	"context"
	"errors"
	"path/filepath"
	"runtime/pprof"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func findEntry(t *testing.T, stats RawStats, name string) RawEntry {
	t.Helper()
	for _, e := range stats.Entries {
		if e.Key[len(e.Key)-1] == name {
			return e
		}
	}
	t.Fatalf("no entry for %q in %v", name, stats.Entries)
	return RawEntry{}
}

func TestCollector_DisabledRecordsNothing(t *testing.T) {
	c := New()
	ctx := context.Background()

	got, done := c.Enter(ctx, "ignored")
	done()

	assert.Equal(t, ctx, got)
	stats := c.RawStats()
	assert.Empty(t, stats.Entries)
	assert.Zero(t, stats.TotalTime)
}

func TestCollector_EnableIdempotent(t *testing.T) {
	c := New()
	assert.False(t, c.Enabled())

	c.Enable()
	c.Enable()
	assert.True(t, c.Enabled())

	c.Disable()
	c.Disable()
	assert.False(t, c.Enabled())
}

func TestCollector_SelfAndCumulativeTime(t *testing.T) {
	clk := newFakeClock()
	c := New(WithClock(clk.Now))
	c.Enable()

	ctx, doneOuter := c.Enter(context.Background(), "outer")
	clk.Advance(10 * time.Millisecond)
	_, doneInner := c.Enter(ctx, "inner")
	clk.Advance(30 * time.Millisecond)
	doneInner()
	clk.Advance(5 * time.Millisecond)
	doneOuter()
	c.Disable()

	stats := c.RawStats()
	require.Len(t, stats.Entries, 2)

	outer := findEntry(t, stats, "outer")
	assert.Equal(t, uint64(1), outer.Calls)
	assert.Equal(t, uint64(1), outer.PrimitiveCalls)
	assert.InDelta(t, 0.015, outer.TotalTime, 1e-9)
	assert.InDelta(t, 0.045, outer.CumulativeTime, 1e-9)
	assert.Empty(t, outer.Callers)

	inner := findEntry(t, stats, "inner")
	assert.InDelta(t, 0.030, inner.TotalTime, 1e-9)
	assert.InDelta(t, 0.030, inner.CumulativeTime, 1e-9)
	require.Len(t, inner.Callers, 1)
	assert.Equal(t, outer.Key, inner.Callers[0].Key)
	assert.Equal(t, uint64(1), inner.Callers[0].Calls)

	assert.InDelta(t, 0.045, stats.TotalTime, 1e-9)
}

func recurse(ctx context.Context, c *Collector, clk *fakeClock, depth int) {
	ctx, done := c.Enter(ctx, "recurse")
	defer done()

	clk.Advance(10 * time.Millisecond)
	if depth > 0 {
		recurse(ctx, c, clk, depth-1)
	}
}

func TestCollector_Recursion(t *testing.T) {
	clk := newFakeClock()
	c := New(WithClock(clk.Now))

	err := c.Session(context.Background(), func(ctx context.Context) error {
		recurse(ctx, c, clk, 2)
		return nil
	})
	require.NoError(t, err)

	stats := c.RawStats()
	require.Len(t, stats.Entries, 1)
	e := stats.Entries[0]

	assert.Equal(t, uint64(3), e.Calls)
	assert.Equal(t, uint64(1), e.PrimitiveCalls)
	assert.InDelta(t, 0.030, e.TotalTime, 1e-9)
	assert.InDelta(t, 0.030, e.CumulativeTime, 1e-9)
	require.Len(t, e.Callers, 1)
	assert.Equal(t, e.Key, e.Callers[0].Key)
	assert.Equal(t, uint64(2), e.Callers[0].Calls)
}

func TestCollector_ResolvedKey(t *testing.T) {
	c := New()
	c.Enable()
	_, done := c.Enter(context.Background(), "located")
	done()
	c.Disable()

	stats := c.RawStats()
	require.Len(t, stats.Entries, 1)
	key := stats.Entries[0].Key
	require.Len(t, key, 3)
	assert.Equal(t, "collector_test.go", filepath.Base(key[0]))
	assert.NotEqual(t, "0", key[1])
	assert.Equal(t, "located", key[2])
}

func TestCollector_DoneIsIdempotent(t *testing.T) {
	c := New()
	c.Enable()
	_, done := c.Enter(context.Background(), "once")
	done()
	done()
	c.Disable()

	e := findEntry(t, c.RawStats(), "once")
	assert.Equal(t, uint64(1), e.Calls)
}

func TestCollector_AccumulatesAcrossSessions(t *testing.T) {
	c := New()
	work := func(ctx context.Context) error {
		_, done := c.Enter(ctx, "work")
		done()
		return nil
	}

	require.NoError(t, c.Session(context.Background(), work))
	require.NoError(t, c.Session(context.Background(), work))

	e := findEntry(t, c.RawStats(), "work")
	assert.Equal(t, uint64(2), e.Calls)
	assert.Equal(t, uint64(2), e.PrimitiveCalls)
}

func TestCollector_SessionDisablesOnError(t *testing.T) {
	c := New()
	boom := errors.New("boom")

	err := c.Session(context.Background(), func(ctx context.Context) error {
		assert.True(t, c.Enabled())
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.False(t, c.Enabled())
}

func TestCollector_SessionDisablesPreEnabled(t *testing.T) {
	c := New()
	c.Enable()

	require.NoError(t, c.Session(context.Background(), func(context.Context) error { return nil }))
	assert.False(t, c.Enabled())
}

func TestCollector_NestedSessionRunsInline(t *testing.T) {
	c := New()
	errCh := make(chan error, 1)

	go func() {
		errCh <- c.Session(context.Background(), func(ctx context.Context) error {
			return c.Session(ctx, func(ctx context.Context) error {
				assert.True(t, c.Enabled())
				_, done := c.Enter(ctx, "inner")
				done()
				return nil
			})
		})
	}()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("nested session did not return")
	}

	assert.False(t, c.Enabled())
	assert.Equal(t, uint64(1), findEntry(t, c.RawStats(), "inner").Calls)
}

func TestCollector_OtherCollectorSessionIsIndependent(t *testing.T) {
	outer, inner := New(), New()

	err := outer.Session(context.Background(), func(ctx context.Context) error {
		return inner.Session(ctx, func(context.Context) error {
			assert.True(t, outer.Enabled())
			assert.True(t, inner.Enabled())
			return nil
		})
	})
	require.NoError(t, err)
	assert.False(t, inner.Enabled())
	assert.False(t, outer.Enabled())
}

func TestCollector_SessionLabels(t *testing.T) {
	c := New()
	tp := sdktrace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	err := c.Session(ctx, func(ctx context.Context) error {
		v, ok := pprof.Label(ctx, "profiler")
		assert.True(t, ok)
		assert.Equal(t, "session", v)

		v, ok = pprof.Label(ctx, "span_id")
		assert.True(t, ok)
		assert.Equal(t, span.SpanContext().SpanID().String(), v)
		return nil
	})
	require.NoError(t, err)
}

func TestCollector_ConcurrentSessions(t *testing.T) {
	c := New()
	const workers = 8

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Session(context.Background(), func(ctx context.Context) error {
				ctx, done := c.Enter(ctx, "parent")
				defer done()
				_, childDone := c.Enter(ctx, "child")
				childDone()
				return nil
			})
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.RawStats()
		}()
	}
	wg.Wait()

	stats := c.RawStats()
	assert.Equal(t, uint64(workers), findEntry(t, stats, "parent").Calls)
	assert.Equal(t, uint64(workers), findEntry(t, stats, "child").Calls)
}

func TestCollector_RawStatsIsCopy(t *testing.T) {
	c := New()
	c.Enable()
	ctx, done := c.Enter(context.Background(), "a")
	_, childDone := c.Enter(ctx, "b")
	childDone()
	done()
	c.Disable()

	first := c.RawStats()
	b := findEntry(t, first, "b")
	b.Key[2] = "mutated"
	b.Callers[0].Key[2] = "mutated"

	second := c.RawStats()
	assert.Equal(t, "b", findEntry(t, second, "b").Key[2])
	assert.Equal(t, "a", findEntry(t, second, "b").Callers[0].Key[2])
}

func TestRawKey_String(t *testing.T) {
	assert.Equal(t, `("main.go", "12", "sumRange")`, RawKey{"main.go", "12", "sumRange"}.String())
	assert.Equal(t, `("~", "<lambda>")`, RawKey{"~", "<lambda>"}.String())
	assert.Equal(t, `()`, RawKey{}.String())
}
