package wave

import (
	"sort"
	"time"
)

// CoverageTolerance absorbs clock-rounding noise between independently
// recorded sub-assignments: a merged run may start up to this much after the
// target start (and end this much before the target end) and still count.
const CoverageTolerance = time.Minute

// Interval is a half-open-ish time range [Start, End] used for coverage math.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Merge sorts intervals by start and collapses overlapping or contiguous
// ones into disjoint runs. An interval whose start is <= the current run's
// end extends the run.
func Merge(intervals []Interval) []Interval {
	if len(intervals) == 0 {
		return nil
	}

	sorted := make([]Interval, len(intervals))
	copy(sorted, intervals)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Start.Before(sorted[j].Start)
	})

	merged := make([]Interval, 0, len(sorted))
	current := sorted[0]

	for _, next := range sorted[1:] {
		if !next.Start.After(current.End) {
			if next.End.After(current.End) {
				current.End = next.End
			}
			continue
		}
		merged = append(merged, current)
		current = next
	}
	return append(merged, current)
}

// IsFullyCovered reports whether some merged run of intervals covers the
// target range within CoverageTolerance on both ends. An empty interval set
// never covers anything.
func IsFullyCovered(target Interval, intervals []Interval) bool {
	if len(intervals) == 0 {
		return false
	}

	for _, run := range Merge(intervals) {
		if !run.Start.Add(-CoverageTolerance).After(target.Start) &&
			!run.End.Add(CoverageTolerance).Before(target.End) {
			return true
		}
	}
	return false
}
