package profiler

import (
	"strconv"
	"strings"
)

// RawKey identifies a function inside the collector. A resolved key has
// three components (file, line, name); an unresolved one has fewer.
type RawKey []string

// String renders the key as a tuple, e.g. ("main.go", "12", "sumRange").
func (k RawKey) String() string {
	parts := make([]string, len(k))
	for i, p := range k {
		parts[i] = strconv.Quote(p)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func (k RawKey) id() string {
	return strings.Join(k, "\x00")
}

func (k RawKey) clone() RawKey {
	out := make(RawKey, len(k))
	copy(out, k)
	return out
}

// CallerCount is the number of calls a function received from one caller.
type CallerCount struct {
	Key   RawKey
	Calls uint64
}

// RawEntry is one row of the collector table.
type RawEntry struct {
	Key            RawKey
	PrimitiveCalls uint64  // calls not made recursively
	Calls          uint64  // all calls
	TotalTime      float64 // seconds, excluding callees
	CumulativeTime float64 // seconds, including callees
	Callers        []CallerCount
}

// RawStats is a detached copy of the collector table.
type RawStats struct {
	TotalTime float64
	Entries   []RawEntry
}
