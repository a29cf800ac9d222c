package schedule

import (
	"cmp"
	"slices"
	"time"

	"github.com/teambition/rrule-go"
)

// DefaultDurationMinutes is used when a schedule omits its duration.
const DefaultDurationMinutes = 15

// expansionEpoch is an arbitrary UTC midnight that series are generated from
// before being folded back into minutes of the day.
var expansionEpoch = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// Occurrence is one (spawn minute, duration) instance within a day.
type Occurrence struct {
	SpawnMinute     int
	DurationMinutes int
}

// Expand lists the daily occurrences of one schedule entry.
//
//   - interval > 0: MinutesPerDay/interval occurrences, interval minutes apart,
//     starting at base+offset.
//   - interval <= 0: a single occurrence at base+offset, repeated every
//     WorldCycleMinutes when worldCycle is set.
//
// The result is sorted by spawn minute with exact duplicates removed.
func Expand(base, offset, duration, interval int, worldCycle bool) []Occurrence {
	start := Wrap(Wrap(base) + Wrap(offset))

	var minutes []int
	switch {
	case interval > 0:
		minutes = series(start, interval, MinutesPerDay/interval)
	case worldCycle:
		minutes = series(start, WorldCycleMinutes, MinutesPerDay/WorldCycleMinutes)
	default:
		minutes = []int{start}
	}

	out := make([]Occurrence, 0, len(minutes))
	for _, m := range minutes {
		out = append(out, Occurrence{SpawnMinute: m, DurationMinutes: duration})
	}
	return Normalize(out)
}

// series returns count minutes of the day, step minutes apart from start,
// which must already be a minute of the day.
func series(start, step, count int) []int {
	// rrule treats COUNT=0 as unbounded.
	if count <= 0 {
		return nil
	}
	r, err := rrule.NewRRule(rrule.ROption{
		Freq:     rrule.MINUTELY,
		Interval: step,
		Count:    count,
		Dtstart:  expansionEpoch.Add(time.Duration(start) * time.Minute),
	})
	if err != nil {
		return nil
	}

	times := r.All()
	out := make([]int, 0, len(times))
	for _, t := range times {
		out = append(out, Wrap(int(t.Sub(expansionEpoch)/time.Minute)))
	}
	return out
}

// Normalize sorts occurrences by spawn minute (then duration) and collapses
// exact duplicates. The input slice is reordered in place.
func Normalize(occ []Occurrence) []Occurrence {
	slices.SortFunc(occ, func(a, b Occurrence) int {
		if c := cmp.Compare(a.SpawnMinute, b.SpawnMinute); c != 0 {
			return c
		}
		return cmp.Compare(a.DurationMinutes, b.DurationMinutes)
	})
	return slices.Compact(occ)
}

// Split turns occurrences into the index-aligned spawn/duration slices stored
// on a model.EventDefinition.
func Split(occ []Occurrence) (spawns, durations []int) {
	spawns = make([]int, 0, len(occ))
	durations = make([]int, 0, len(occ))
	for _, o := range occ {
		spawns = append(spawns, o.SpawnMinute)
		durations = append(durations, o.DurationMinutes)
	}
	return spawns, durations
}
