// Package profiler implements a deterministic call statistics collector.
//
// Functions opt in by calling Collector.Enter and deferring the returned
// func. Frames are linked through context.Context, which gives each call
// chain its own view of recursion and callers. For every function the
// collector keeps:
//
//   - nc: all calls
//   - cc: primitive (non-recursive) calls
//   - tt: self time, excluding callees
//   - ct: cumulative time, added only by the outermost activation
//
// Session serializes enable/work/disable cycles; RawStats takes the same
// lock so a copy never observes a half-finished session.
package profiler
