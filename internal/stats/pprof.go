package stats

import (
	"io"
	"math"

	"github.com/google/pprof/profile"
)

// Profile converts snap into a pprof profile with one single-frame sample
// per function. Sample values are calls, self time and cumulative time.
func Profile(snap Snapshot) *profile.Profile {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "calls", Unit: "count"},
			{Type: "self", Unit: "nanoseconds"},
			{Type: "cumulative", Unit: "nanoseconds"},
		},
		DefaultSampleType: "self",
		TimeNanos:         snap.TakenAt().UnixNano(),
		DurationNanos:     nanos(snap.TotalTimeSeconds()),
		Comments:          []string{"snapshot " + snap.ID().String()},
	}
	m := &profile.Mapping{ID: 1, HasFunctions: true, HasFilenames: true, HasLineNumbers: true}
	p.Mapping = []*profile.Mapping{m}

	for i, e := range snap.Records() {
		id := uint64(i + 1)
		fn := &profile.Function{
			ID:         id,
			Name:       e.Key.Name,
			SystemName: e.Key.Name,
		}
		var line int64
		if loc, ok := e.Key.Location(); ok {
			fn.Filename = loc.File
			fn.StartLine = int64(loc.Line)
			line = int64(loc.Line)
		}
		p.Function = append(p.Function, fn)

		location := &profile.Location{
			ID:      id,
			Mapping: m,
			Line:    []profile.Line{{Function: fn, Line: line}},
		}
		p.Location = append(p.Location, location)

		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{location},
			Value: []int64{
				int64(e.Record.CallCount),
				nanos(e.Record.TotalTimeSeconds),
				nanos(e.Record.CumulativeTimeSeconds),
			},
		})
	}
	return p
}

// WritePprof writes snap as a gzipped pprof protobuf.
func WritePprof(w io.Writer, snap Snapshot) error {
	return Profile(snap).Write(w)
}

func nanos(seconds float64) int64 {
	return int64(math.Round(seconds * 1e9))
}
