package stats

import (
	"bytes"
	"fmt"
	"io"
	"sort"
)

// SortByCumulative orders entries by cumulative time, highest first, with
// ties broken by key.
func SortByCumulative(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i].Record.CumulativeTimeSeconds, entries[j].Record.CumulativeTimeSeconds
		if a != b {
			return a > b
		}
		return entries[i].Key.less(entries[j].Key)
	})
}

// WriteTable writes a human-readable report of snap, one row per function
// ordered by cumulative time.
func WriteTable(w io.Writer, snap Snapshot) error {
	entries := snap.Records()
	SortByCumulative(entries)

	var calls uint64
	for _, e := range entries {
		calls += e.Record.CallCount
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%9d function calls", calls)
	if calls != snap.TotalCalls() {
		fmt.Fprintf(&buf, " (%d primitive calls)", snap.TotalCalls())
	}
	fmt.Fprintf(&buf, " in %.3f seconds\n\n", snap.TotalTimeSeconds())
	buf.WriteString("   Ordered by: cumulative time\n\n")
	fmt.Fprintf(&buf, "%9s %8s %8s %8s %8s %s\n",
		"ncalls", "tottime", "percall", "cumtime", "percall", "filename:lineno(function)")

	for _, e := range entries {
		r := e.Record
		ncalls := fmt.Sprintf("%d", r.CallCount)
		if r.CallCount != r.PrimitiveCallCount {
			ncalls = fmt.Sprintf("%d/%d", r.CallCount, r.PrimitiveCallCount)
		}
		fmt.Fprintf(&buf, "%9s %8.3f %8.3f %8.3f %8.3f %s\n",
			ncalls,
			r.TotalTimeSeconds,
			perCall(r.TotalTimeSeconds, r.CallCount),
			r.CumulativeTimeSeconds,
			perCall(r.CumulativeTimeSeconds, r.PrimitiveCallCount),
			e.Key,
		)
	}

	_, err := w.Write(buf.Bytes())
	return err
}

// Table renders WriteTable output as a string.
func Table(snap Snapshot) string {
	var buf bytes.Buffer
	_ = WriteTable(&buf, snap)
	return buf.String()
}

func perCall(seconds float64, calls uint64) float64 {
	if calls == 0 {
		return 0
	}
	return seconds / float64(calls)
}
