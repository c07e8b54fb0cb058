package stats

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// UnknownFile is the function.file value for functions without a location.
const UnknownFile = "unknown"

// Export attribute keys.
const (
	AttrFunctionName = attribute.Key("function.name")
	AttrFunctionFile = attribute.Key("function.file")
)

// SourceLocation is where a function is declared.
type SourceLocation struct {
	File string
	Line int
}

// FunctionKey identifies one profiled function. It is comparable and used
// as a map key. A key built with UnlocatedKey (or a bare literal) reports
// no location; there is no sentinel file name.
type FunctionKey struct {
	Name string

	loc     SourceLocation
	located bool
}

// NewFunctionKey returns a key with a known source location.
func NewFunctionKey(name, file string, line int) FunctionKey {
	return FunctionKey{Name: name, loc: SourceLocation{File: file, Line: line}, located: true}
}

// UnlocatedKey returns a key without a source location.
func UnlocatedKey(name string) FunctionKey {
	return FunctionKey{Name: name}
}

// Location returns the source location, if known.
func (k FunctionKey) Location() (SourceLocation, bool) {
	return k.loc, k.located
}

// String renders the key as file:line(name), or just the name when the
// location is unknown.
func (k FunctionKey) String() string {
	if !k.located {
		return k.Name
	}
	return fmt.Sprintf("%s:%d(%s)", k.loc.File, k.loc.Line, k.Name)
}

// ExportAttributes returns the label set attached to per-function
// telemetry observations.
func (k FunctionKey) ExportAttributes() attribute.Set {
	file := UnknownFile
	if k.located {
		file = k.loc.File
	}
	return attribute.NewSet(
		AttrFunctionName.String(k.Name),
		AttrFunctionFile.String(file),
	)
}

func (k FunctionKey) less(o FunctionKey) bool {
	if k.Name != o.Name {
		return k.Name < o.Name
	}
	if k.loc.File != o.loc.File {
		return k.loc.File < o.loc.File
	}
	return k.loc.Line < o.loc.Line
}

// FunctionRecord holds the statistics of one function.
//
// Invariants: CallCount >= PrimitiveCallCount and
// CumulativeTimeSeconds >= TotalTimeSeconds >= 0.
type FunctionRecord struct {
	CallCount             uint64
	PrimitiveCallCount    uint64
	TotalTimeSeconds      float64
	CumulativeTimeSeconds float64
	Callers               map[FunctionKey]uint64
}

// normalized returns r with its invariants restored: bad times become 0,
// primitive calls are capped at calls and cumulative time is raised to at
// least total time.
func (r FunctionRecord) normalized() FunctionRecord {
	r.TotalTimeSeconds = clampSeconds(r.TotalTimeSeconds)
	r.CumulativeTimeSeconds = clampSeconds(r.CumulativeTimeSeconds)
	if r.PrimitiveCallCount > r.CallCount {
		r.PrimitiveCallCount = r.CallCount
	}
	if r.CumulativeTimeSeconds < r.TotalTimeSeconds {
		r.CumulativeTimeSeconds = r.TotalTimeSeconds
	}
	r.Callers = copyCallers(r.Callers)
	return r
}

func (r FunctionRecord) merge(o FunctionRecord) FunctionRecord {
	r.CallCount += o.CallCount
	r.PrimitiveCallCount += o.PrimitiveCallCount
	r.TotalTimeSeconds += o.TotalTimeSeconds
	r.CumulativeTimeSeconds += o.CumulativeTimeSeconds
	for k, n := range o.Callers {
		if r.Callers == nil {
			r.Callers = make(map[FunctionKey]uint64, len(o.Callers))
		}
		r.Callers[k] += n
	}
	return r
}

func copyCallers(in map[FunctionKey]uint64) map[FunctionKey]uint64 {
	if len(in) == 0 {
		return nil
	}
	out := make(map[FunctionKey]uint64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// clampSeconds maps negative, NaN and infinite durations to 0.
func clampSeconds(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

// Entry pairs a key with its record.
type Entry struct {
	Key    FunctionKey
	Record FunctionRecord
}

// Snapshot is an immutable copy of collector statistics.
type Snapshot struct {
	id         uuid.UUID
	takenAt    time.Time
	totalCalls uint64
	totalTime  float64
	records    map[FunctionKey]FunctionRecord
}

// NewSnapshot builds a snapshot from entries. Records are normalized,
// entries sharing a key are merged, and TotalCalls is the sum of primitive
// calls.
func NewSnapshot(totalTimeSeconds float64, entries []Entry) Snapshot {
	s := Snapshot{
		id:        uuid.New(),
		takenAt:   time.Now(),
		totalTime: clampSeconds(totalTimeSeconds),
		records:   make(map[FunctionKey]FunctionRecord, len(entries)),
	}
	for _, e := range entries {
		rec := e.Record.normalized()
		if prev, ok := s.records[e.Key]; ok {
			rec = prev.merge(rec)
		}
		s.records[e.Key] = rec
	}
	for _, rec := range s.records {
		s.totalCalls += rec.PrimitiveCallCount
	}
	return s
}

// ID uniquely identifies the snapshot.
func (s Snapshot) ID() uuid.UUID { return s.id }

// TakenAt is when the snapshot was built.
func (s Snapshot) TakenAt() time.Time { return s.takenAt }

// TotalCalls is the number of primitive calls across all records.
func (s Snapshot) TotalCalls() uint64 { return s.totalCalls }

// TotalTimeSeconds is the collector-reported aggregate time.
func (s Snapshot) TotalTimeSeconds() float64 { return s.totalTime }

// Len returns the number of records.
func (s Snapshot) Len() int { return len(s.records) }

// Record returns a copy of the record for key.
func (s Snapshot) Record(key FunctionKey) (FunctionRecord, bool) {
	rec, ok := s.records[key]
	if !ok {
		return FunctionRecord{}, false
	}
	rec.Callers = copyCallers(rec.Callers)
	return rec, true
}

// Records returns a copy of all records ordered by key.
func (s Snapshot) Records() []Entry {
	out := make([]Entry, 0, len(s.records))
	for k, rec := range s.records {
		rec.Callers = copyCallers(rec.Callers)
		out = append(out, Entry{Key: k, Record: rec})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.less(out[j].Key) })
	return out
}
