package interval

import (
	"slices"
	"time"
)

// Set is a disjoint union of intervals ordered by start time. Overlapping
// and abutting intervals are merged on insert, so no two entries ever touch.
type Set struct {
	intervals []Interval
}

// NewSet returns a set covering the given intervals.
func NewSet(intervals ...Interval) *Set {
	set := &Set{}
	for _, i := range intervals {
		set.Insert(i)
	}
	return set
}

// Insert adds the interval to the set, merging it with any entries it
// overlaps or abuts.
func (s *Set) Insert(interval Interval) {
	start, end := interval.Start, interval.End
	merged := make([]Interval, 0, len(s.intervals)+1)
	inserted := false
	for _, existing := range s.intervals {
		switch {
		case existing.End.Before(start):
			merged = append(merged, existing)
		case end.Before(existing.Start):
			if !inserted {
				merged = append(merged, Interval{Start: start, End: end})
				inserted = true
			}
			merged = append(merged, existing)
		default:
			// touching or overlapping: widen the pending interval
			start = minTime(start, existing.Start)
			end = maxTime(end, existing.End)
		}
	}
	if !inserted {
		merged = append(merged, Interval{Start: start, End: end})
	}
	s.intervals = merged
}

// Contains returns true if the interval lies fully inside the set's coverage.
func (s *Set) Contains(interval Interval) bool {
	for _, existing := range s.intervals {
		if existing.Contains(interval) {
			return true
		}
	}
	return false
}

// Missing returns the ordered disjoint parts of requested that are not
// covered by the set. An empty result means requested is fully covered.
func (s *Set) Missing(requested Interval) []Interval {
	var missing []Interval
	cursor := requested.Start
	for _, existing := range s.intervals {
		if !existing.Overlaps(requested) {
			continue
		}
		if cursor.Before(existing.Start) {
			missing = append(missing, Interval{Start: cursor, End: existing.Start})
		}
		cursor = maxTime(cursor, existing.End)
	}
	if cursor.Before(requested.End) {
		missing = append(missing, Interval{Start: cursor, End: requested.End})
	}
	return missing
}

// Intervals returns a copy of the set's intervals in start order.
func (s *Set) Intervals() []Interval {
	return slices.Clone(s.intervals)
}

// Len returns the number of disjoint intervals in the set.
func (s *Set) Len() int {
	return len(s.intervals)
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
