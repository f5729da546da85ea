package timerange

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(h, m int) time.Time {
	return time.Date(2025, 3, 10, h, m, 0, 0, time.UTC)
}

func TestOverlaps(t *testing.T) {
	tests := []struct {
		name string
		a, b Range
		want bool
	}{
		{"identical", Range{at(9, 0), at(10, 0)}, Range{at(9, 0), at(10, 0)}, true},
		{"partial", Range{at(9, 0), at(10, 0)}, Range{at(9, 30), at(10, 30)}, true},
		{"contained", Range{at(9, 0), at(12, 0)}, Range{at(10, 0), at(11, 0)}, true},
		{"adjacent before", Range{at(9, 0), at(10, 0)}, Range{at(10, 0), at(11, 0)}, false},
		{"adjacent after", Range{at(10, 0), at(11, 0)}, Range{at(9, 0), at(10, 0)}, false},
		{"disjoint", Range{at(9, 0), at(10, 0)}, Range{at(13, 0), at(14, 0)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Overlaps(tt.b))
			assert.Equal(t, tt.want, tt.b.Overlaps(tt.a), "overlap must be symmetric")
		})
	}
}

func TestValidate(t *testing.T) {
	_, err := New(at(10, 0), at(9, 0))
	require.Error(t, err)

	_, err = New(at(9, 0), at(9, 0))
	require.Error(t, err, "zero-length ranges are invalid")

	r, err := New(at(9, 0), at(9, 30))
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, r.Duration())
}

func TestExpand(t *testing.T) {
	r := Range{at(10, 0), at(10, 30)}

	got := r.Expand(15 * time.Minute)
	assert.Equal(t, at(9, 45), got.Start)
	assert.Equal(t, at(10, 45), got.End)

	assert.Equal(t, r, r.Expand(0))
	assert.Equal(t, r, r.Expand(-time.Minute))
}

func TestExpandedAdjacencyOverlaps(t *testing.T) {
	// A 15 minute buffer around a 10:00-10:30 appointment must knock out the
	// 09:30-10:00 and 10:30-11:00 slots but leave 09:00-09:30 alone.
	appt := Range{at(10, 0), at(10, 30)}.Expand(15 * time.Minute)

	assert.True(t, appt.Overlaps(Range{at(9, 30), at(10, 0)}))
	assert.True(t, appt.Overlaps(Range{at(10, 30), at(11, 0)}))
	assert.False(t, appt.Overlaps(Range{at(9, 0), at(9, 30)}))
}

func TestOverlapsAny(t *testing.T) {
	blocked := []Range{
		{at(9, 0), at(10, 0)},
		{at(14, 0), at(15, 0)},
	}
	assert.True(t, Range{at(9, 30), at(10, 30)}.OverlapsAny(blocked))
	assert.False(t, Range{at(11, 0), at(12, 0)}.OverlapsAny(blocked))
	assert.False(t, Range{at(11, 0), at(12, 0)}.OverlapsAny(nil))
}
