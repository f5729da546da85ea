package scheduling

import (
	"sort"
	"time"

	"github.com/clinicore/clinic-scheduling/internal/timerange"
)

// AvailabilityInputs bundles everything the slot generator needs. The
// generator itself is pure so the same filtering can back both slot listing
// and the booking pre-check.
type AvailabilityInputs struct {
	Location *time.Location
	Now      time.Time
	Settings DoctorSettings
	Rules    []WorkingHourRule
	Blocked  []timerange.Range
	Booked   []timerange.Range // active appointments only
}

// BuildSlots enumerates the free slots for the calendar day containing `day`
// in the clinic's zone, ascending by start. Candidate boundaries are
// converted from local wall-clock minutes to absolute instants one step at a
// time, so days with a DST transition keep honest slot durations.
//
// Overlapping working-hour rules may produce duplicate or overlapping
// candidates; callers present the flat list as-is.
func BuildSlots(in AvailabilityInputs, day time.Time) []Slot {
	loc := in.Location
	if loc == nil {
		loc = time.UTC
	}
	year, month, dom := day.In(loc).Date()
	weekday := int(time.Date(year, month, dom, 0, 0, 0, 0, loc).Weekday())

	slotLen := in.Settings.SlotMinutes
	if slotLen <= 0 {
		slotLen = DefaultSlotMinutes
	}
	buffer := time.Duration(in.Settings.BufferMinutes) * time.Minute
	floor := in.Now.Add(time.Duration(in.Settings.LeadTimeMinutes) * time.Minute)

	var slots []Slot
	for _, rule := range in.Rules {
		if rule.Weekday != weekday {
			continue
		}
		for startMin := rule.StartMinute; startMin+slotLen <= rule.EndMinute; startMin += slotLen {
			start := time.Date(year, month, dom, 0, startMin, 0, 0, loc)
			end := time.Date(year, month, dom, 0, startMin+slotLen, 0, 0, loc)
			if end.Sub(start) != time.Duration(slotLen)*time.Minute {
				// The wall-clock window straddles a DST transition and does
				// not realize to a full slot; never offer it.
				continue
			}
			if start.Before(floor) {
				continue
			}
			candidate := timerange.Range{Start: start, End: end}
			if candidate.OverlapsAny(in.Blocked) {
				continue
			}
			if candidate.Expand(buffer).OverlapsAny(in.Booked) {
				continue
			}
			slots = append(slots, Slot{Start: start, End: end})
		}
	}

	sort.Slice(slots, func(i, j int) bool { return slots[i].Start.Before(slots[j].Start) })
	return slots
}

// checkRange applies the same constraints as BuildSlots to one specific
// requested range. It is the booking transactor's advisory pre-check; the
// store's exclusion constraint remains the authority.
func checkRange(in AvailabilityInputs, requested timerange.Range) error {
	if !withinWorkingHours(in.Location, in.Rules, requested) {
		return &SlotUnavailableError{Reason: ReasonOutsideWorkingHours}
	}
	floor := in.Now.Add(time.Duration(in.Settings.LeadTimeMinutes) * time.Minute)
	if requested.Start.Before(floor) {
		return &SlotUnavailableError{Reason: ReasonLeadTime}
	}
	if requested.OverlapsAny(in.Blocked) {
		return &SlotUnavailableError{Reason: ReasonBlocked}
	}
	buffer := time.Duration(in.Settings.BufferMinutes) * time.Minute
	if requested.Expand(buffer).OverlapsAny(in.Booked) {
		return &SlotUnavailableError{Reason: ReasonOverlapsAppointment}
	}
	return nil
}

// withinWorkingHours reports whether the requested range lies entirely inside
// one working-hour window on its local weekday.
func withinWorkingHours(loc *time.Location, rules []WorkingHourRule, requested timerange.Range) bool {
	if loc == nil {
		loc = time.UTC
	}
	year, month, dom := requested.Start.In(loc).Date()
	weekday := int(time.Date(year, month, dom, 0, 0, 0, 0, loc).Weekday())

	for _, rule := range rules {
		if rule.Weekday != weekday {
			continue
		}
		window := timerange.Range{
			Start: time.Date(year, month, dom, 0, rule.StartMinute, 0, 0, loc),
			End:   time.Date(year, month, dom, 0, rule.EndMinute, 0, 0, loc),
		}
		if window.Contains(requested) {
			return true
		}
	}
	return false
}
