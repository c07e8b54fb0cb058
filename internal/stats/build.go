package stats

import (
	"strconv"

	"github.com/fyrsmithlabs/profiled/internal/profiler"
)

// RawSource is read-only access to a collector table.
type RawSource interface {
	RawStats() profiler.RawStats
}

// unknownName labels a raw key with no components.
const unknownName = "<unknown>"

// Build converts the current collector table into a Snapshot. It never
// mutates or resets the source.
func Build(src RawSource) Snapshot {
	raw := src.RawStats()

	entries := make([]Entry, 0, len(raw.Entries))
	for _, re := range raw.Entries {
		rec := FunctionRecord{
			CallCount:             re.Calls,
			PrimitiveCallCount:    re.PrimitiveCalls,
			TotalTimeSeconds:      re.TotalTime,
			CumulativeTimeSeconds: re.CumulativeTime,
		}
		if len(re.Callers) > 0 {
			rec.Callers = make(map[FunctionKey]uint64, len(re.Callers))
			for _, c := range re.Callers {
				rec.Callers[keyFromRaw(c.Key)] += c.Calls
			}
		}
		entries = append(entries, Entry{Key: keyFromRaw(re.Key), Record: rec})
	}

	return NewSnapshot(raw.TotalTime, entries)
}

// keyFromRaw maps a (file, line, name) raw key to a FunctionKey. Keys with
// fewer components, a non-numeric line or the "~" file have no location
// and fall back to a synthesized name.
func keyFromRaw(k profiler.RawKey) FunctionKey {
	if len(k) >= 3 {
		file, name := k[0], k[len(k)-1]
		line, err := strconv.Atoi(k[1])
		switch {
		case err != nil || line < 0:
		case file == "" || file == "~":
			if name != "" {
				return UnlocatedKey(name)
			}
		case name != "":
			return NewFunctionKey(name, file, line)
		}
	}
	if len(k) == 0 {
		return UnlocatedKey(unknownName)
	}
	return UnlocatedKey(k.String())
}
