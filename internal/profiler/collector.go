package profiler

import (
	"context"
	"runtime"
	"runtime/pprof"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// unresolvedFile marks a call site whose location could not be resolved.
const unresolvedFile = "~"

// Collector is a deterministic call statistics collector. Instrumented
// functions call Enter on entry and the returned func on exit.
//
// Statistics accumulate for the lifetime of the collector; there is no reset.
type Collector struct {
	session sync.Mutex // held across Session; RawStats waits on it
	enabled atomic.Bool

	now    func() time.Time
	logger *zap.Logger

	mu        sync.Mutex
	entries   map[string]*entry
	totalTime float64
}

type entry struct {
	key     RawKey
	cc, nc  uint64
	tt, ct  float64
	callers map[string]*CallerCount
}

// Option configures a Collector.
type Option func(*Collector)

// WithClock replaces time.Now (for tests).
func WithClock(now func() time.Time) Option {
	return func(c *Collector) {
		c.now = now
	}
}

// WithLogger sets the logger for enable/disable transitions.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Collector) {
		c.logger = logger
	}
}

// New creates a disabled collector.
func New(opts ...Option) *Collector {
	c := &Collector{
		now:     time.Now,
		logger:  zap.NewNop(),
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enable starts recording. Enabling an enabled collector is a no-op.
func (c *Collector) Enable() {
	if c.enabled.CompareAndSwap(false, true) {
		c.logger.Debug("collector enabled")
	}
}

// Disable stops recording. Disabling a disabled collector is a no-op.
func (c *Collector) Disable() {
	if c.enabled.CompareAndSwap(true, false) {
		c.logger.Debug("collector disabled")
	}
}

// Enabled reports whether calls are currently recorded.
func (c *Collector) Enabled() bool {
	return c.enabled.Load()
}

type frameCtxKey struct{}

type frame struct {
	collector *Collector
	key       RawKey
	id        string
	parent    *frame
	primitive bool
	start     time.Time
	childNS   atomic.Int64
	done      atomic.Bool
}

// Enter records a call to the function that invokes it. The returned
// context links callees to this frame; the returned func ends the call and
// is safe to call more than once. While the collector is disabled Enter
// returns ctx unchanged and a no-op func.
//
//	func sumRange(ctx context.Context, n int64) int64 {
//		ctx, done := c.Enter(ctx, "sumRange")
//		defer done()
//		...
//	}
func (c *Collector) Enter(ctx context.Context, name string) (context.Context, func()) {
	if !c.enabled.Load() {
		return ctx, func() {}
	}

	key := callSite(name)
	f := &frame{
		collector: c,
		key:       key,
		id:        key.id(),
		primitive: true,
	}
	if parent, ok := ctx.Value(frameCtxKey{}).(*frame); ok && parent.collector == c {
		f.parent = parent
		for p := parent; p != nil; p = p.parent {
			if p.id == f.id {
				f.primitive = false
				break
			}
		}
	}
	f.start = c.now()

	return context.WithValue(ctx, frameCtxKey{}, f), func() { c.exit(f) }
}

// callSite resolves the declaring file and line of the function that called
// Enter. Resolution failure yields a two-component key.
func callSite(name string) RawKey {
	pc, _, _, ok := runtime.Caller(2)
	if !ok {
		return RawKey{unresolvedFile, name}
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return RawKey{unresolvedFile, name}
	}
	file, line := fn.FileLine(fn.Entry())
	return RawKey{file, strconv.Itoa(line), name}
}

func (c *Collector) exit(f *frame) {
	if !f.done.CompareAndSwap(false, true) {
		return
	}

	elapsed := c.now().Sub(f.start)
	if elapsed < 0 {
		elapsed = 0
	}
	self := elapsed - time.Duration(f.childNS.Load())
	if self < 0 {
		self = 0
	}
	if f.parent != nil {
		f.parent.childNS.Add(int64(elapsed))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[f.id]
	if !ok {
		e = &entry{key: f.key, callers: make(map[string]*CallerCount)}
		c.entries[f.id] = e
	}
	e.nc++
	e.tt += self.Seconds()
	if f.primitive {
		e.cc++
		e.ct += elapsed.Seconds()
	}
	if f.parent != nil {
		cc, ok := e.callers[f.parent.id]
		if !ok {
			cc = &CallerCount{Key: f.parent.key}
			e.callers[f.parent.id] = cc
		}
		cc.Calls++
	}
	c.totalTime += self.Seconds()
}

type sessionKey struct{}

// Session runs fn with the collector enabled and disables it on every exit
// path. Sessions are serialized. The session goroutine carries pprof labels
// for the active span so CPU profiles can be joined with traces.
//
// A Session started with a ctx that already belongs to a session of c runs
// fn inline: the collector stays enabled and the outer session disables it.
func (c *Collector) Session(ctx context.Context, fn func(context.Context) error) error {
	if owner, _ := ctx.Value(sessionKey{}).(*Collector); owner == c {
		return fn(ctx)
	}

	c.session.Lock()
	defer c.session.Unlock()

	c.Enable()
	defer c.Disable()

	var err error
	pprof.Do(context.WithValue(ctx, sessionKey{}, c), sessionLabels(ctx), func(ctx context.Context) {
		err = fn(ctx)
	})
	return err
}

func sessionLabels(ctx context.Context) pprof.LabelSet {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return pprof.Labels("profiler", "session")
	}
	return pprof.Labels(
		"profiler", "session",
		"span_id", sc.SpanID().String(),
		"trace_id", sc.TraceID().String(),
	)
}

// RawStats returns a deep copy of the collector table, sorted by key.
// It waits for an in-flight Session, so it must not be called from inside
// one.
func (c *Collector) RawStats() RawStats {
	c.session.Lock()
	defer c.session.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := RawStats{
		TotalTime: c.totalTime,
		Entries:   make([]RawEntry, 0, len(ids)),
	}
	for _, id := range ids {
		e := c.entries[id]
		re := RawEntry{
			Key:            e.key.clone(),
			PrimitiveCalls: e.cc,
			Calls:          e.nc,
			TotalTime:      e.tt,
			CumulativeTime: e.ct,
		}
		callerIDs := make([]string, 0, len(e.callers))
		for cid := range e.callers {
			callerIDs = append(callerIDs, cid)
		}
		sort.Strings(callerIDs)
		for _, cid := range callerIDs {
			cc := e.callers[cid]
			re.Callers = append(re.Callers, CallerCount{Key: cc.Key.clone(), Calls: cc.Calls})
		}
		out.Entries = append(out.Entries, re)
	}
	return out
}
