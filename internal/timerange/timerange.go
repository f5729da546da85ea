// Package timerange provides the half-open time interval used for blocked
// periods and appointments. Both the availability generator and the booking
// service rely on the same overlap definition, which must match the
// tstzrange(start, end, '[)') semantics of the store's exclusion constraint.
package timerange

import (
	"fmt"
	"time"
)

// Range is a half-open interval [Start, End). Adjacent ranges (one ending
// exactly when the next begins) do not overlap.
type Range struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// New builds a range and validates its ordering.
func New(start, end time.Time) (Range, error) {
	r := Range{Start: start, End: end}
	if err := r.Validate(); err != nil {
		return Range{}, err
	}
	return r, nil
}

// Validate reports whether the range is well formed.
func (r Range) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return fmt.Errorf("timerange: start and end are required")
	}
	if !r.Start.Before(r.End) {
		return fmt.Errorf("timerange: start %s is not before end %s", r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339))
	}
	return nil
}

// Overlaps reports whether two half-open ranges share any instant.
func (r Range) Overlaps(other Range) bool {
	return r.Start.Before(other.End) && other.Start.Before(r.End)
}

// Contains reports whether other lies entirely within r.
func (r Range) Contains(other Range) bool {
	return !other.Start.Before(r.Start) && !other.End.After(r.End)
}

// Expand widens the range by pad on both sides. Used for buffer checks
// around existing appointments.
func (r Range) Expand(pad time.Duration) Range {
	if pad <= 0 {
		return r
	}
	return Range{Start: r.Start.Add(-pad), End: r.End.Add(pad)}
}

// Duration returns End - Start.
func (r Range) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

func (r Range) String() string {
	return fmt.Sprintf("[%s, %s)", r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339))
}

// OverlapsAny reports whether r overlaps at least one of the given ranges.
func (r Range) OverlapsAny(others []Range) bool {
	for _, o := range others {
		if r.Overlaps(o) {
			return true
		}
	}
	return false
}
