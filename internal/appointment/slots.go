package appointment

import (
	"sort"
	"time"

	"github.com/carebook/booking-engine/internal/clinic"
)

// Slot is a candidate bookable interval, exactly one appointment type's
// duration long.
type Slot struct {
	Start time.Time
	End   time.Time
}

// ComputeSlots derives the open slots for one clinic day.
//
// Each working period is tiled from its start: a slot is emitted at
// cursor, then cursor advances by duration, while the whole slot still
// fits inside the period. A remainder shorter than one duration at the
// end of a period is dropped. Slots never span two periods.
//
// A candidate is excluded when it overlaps any booked interval under the
// half-open test (touching endpoints are fine). The result is ordered by
// start time and deduplicated; an empty result is a valid "no
// availability" answer.
func ComputeSlots(date time.Time, periods []clinic.WorkingPeriod, duration time.Duration, booked []Interval) []Slot {
	if duration <= 0 {
		return nil
	}

	var slots []Slot
	for _, period := range periods {
		start := period.Start.OnDate(date)
		end := period.End.OnDate(date)

		for cursor := start; !cursor.Add(duration).After(end); cursor = cursor.Add(duration) {
			candidate := Interval{Start: cursor, End: cursor.Add(duration)}
			if overlapsAny(candidate, booked) {
				continue
			}
			slots = append(slots, Slot{Start: candidate.Start, End: candidate.End})
		}
	}

	sort.Slice(slots, func(i, j int) bool { return slots[i].Start.Before(slots[j].Start) })
	return dedupeSlots(slots)
}

func overlapsAny(candidate Interval, booked []Interval) bool {
	for _, b := range booked {
		if candidate.Overlaps(b) {
			return true
		}
	}
	return false
}

func dedupeSlots(slots []Slot) []Slot {
	out := slots[:0]
	for i, s := range slots {
		if i > 0 && s.Start.Equal(slots[i-1].Start) {
			continue
		}
		out = append(out, s)
	}
	return out
}
