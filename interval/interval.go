// Package interval provides half-open time intervals and the disjoint
// coverage sets used to track which ranges of source data are already
// committed.
package interval

import (
	"errors"
	"fmt"
	"time"
)

var ErrEmpty = errors.New("interval must not be empty")

// Interval is the half-open time range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// New returns the interval [start, end). Zero-length and inverted intervals
// are invalid.
func New(start, end time.Time) (Interval, error) {
	if !start.Before(end) {
		return Interval{}, fmt.Errorf("%w: [%s, %s)", ErrEmpty, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return Interval{Start: start, End: end}, nil
}

// IsZero returns true if the interval is the zero value.
func (i Interval) IsZero() bool {
	return i.Start.IsZero() && i.End.IsZero()
}

// Overlaps returns true if the two intervals share any instant. Abutting
// intervals do not overlap.
func (i Interval) Overlaps(other Interval) bool {
	return i.Start.Before(other.End) && other.Start.Before(i.End)
}

// Contains returns true if other lies fully inside this interval.
func (i Interval) Contains(other Interval) bool {
	return !other.Start.Before(i.Start) && !other.End.After(i.End)
}

// String returns the interval in the form [start, end).
func (i Interval) String() string {
	return fmt.Sprintf("[%s, %s)", i.Start.Format(time.RFC3339), i.End.Format(time.RFC3339))
}
