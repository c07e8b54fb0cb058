package logging

import (
	"reflect"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger records every entry, down to TraceLevel, in memory.
type TestLogger struct {
	*Logger
	observed *observer.ObservedLogs
}

// NewTestLogger returns a Logger whose output is captured for assertions.
func NewTestLogger() *TestLogger {
	level := zap.NewAtomicLevelAt(TraceLevel)
	core, observed := observer.New(level)
	return &TestLogger{
		Logger:   &Logger{zap: zap.New(core), level: level},
		observed: observed,
	}
}

// All returns the captured entries in order.
func (t *TestLogger) All() []observer.LoggedEntry { return t.observed.All() }

// Reset drops captured entries.
func (t *TestLogger) Reset() { _ = t.observed.TakeAll() }

// fields returns the field maps of every entry with exactly message msg.
func (t *TestLogger) fields(msg string) []map[string]interface{} {
	var out []map[string]interface{}
	for _, e := range t.observed.FilterMessage(msg).All() {
		out = append(out, e.ContextMap())
	}
	return out
}

// AssertField fails tb unless some entry with message msg has key=expected.
func (t *TestLogger) AssertField(tb testing.TB, msg, key string, expected interface{}) {
	tb.Helper()
	for _, m := range t.fields(msg) {
		if reflect.DeepEqual(m[key], expected) {
			return
		}
	}
	tb.Errorf("no %q entry with %s=%v", msg, key, expected)
}

// AssertTraceCorrelation fails tb unless some entry with message msg
// carries a trace_id.
func (t *TestLogger) AssertTraceCorrelation(tb testing.TB, msg string) {
	tb.Helper()
	for _, m := range t.fields(msg) {
		if _, ok := m["trace_id"]; ok {
			return
		}
	}
	tb.Errorf("no %q entry carries trace_id", msg)
}
