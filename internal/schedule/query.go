package schedule

import (
	"slices"
	"time"

	"traincommander/internal/model"
)

// ActiveLookbackMinutes is how long after its spawn an occurrence still
// counts as "upcoming" for Upcoming.
const ActiveLookbackMinutes = 15

// Clock is a UTC instant reduced to the resolution the queries work in.
type Clock struct {
	Minute   int     // minute of the UTC day, 0-1439
	Fraction float64 // elapsed part of Minute, in [0, 1)
}

// Now reduces t to a Clock.
func Now(t time.Time) Clock {
	t = t.UTC()
	ms := t.Nanosecond() / int(time.Millisecond)
	return Clock{
		Minute:   t.Hour()*60 + t.Minute(),
		Fraction: float64(t.Second())/60 + float64(ms)/60000,
	}
}

// Exact converts a whole-minute diff into a sub-minute countdown.
func (c Clock) Exact(diff int) float64 {
	return float64(diff) - c.Fraction
}

// Upcoming picks, for every definition, the occurrence closest ahead of now
// (allowing ones that spawned up to ActiveLookbackMinutes ago). When no such
// occurrence is left today, the first occurrence of the day is reported as
// tomorrow's. Results are ordered by MinutesUntilSpawn and truncated to limit
// when limit > 0.
func Upcoming(defs []model.EventDefinition, now Clock, limit int) []model.UpcomingEvent {
	out := make([]model.UpcomingEvent, 0, len(defs))

	for _, def := range defs {
		if len(def.SpawnTimesUTC) == 0 {
			continue
		}

		chosen := -1
		best := 0
		for i, spawn := range def.SpawnTimesUTC {
			diff := spawn - now.Minute
			if diff >= -ActiveLookbackMinutes && (chosen == -1 || diff < best) {
				chosen, best = i, diff
			}
		}
		if chosen == -1 {
			chosen = 0
			best = def.SpawnTimesUTC[0] + MinutesPerDay - now.Minute
		}

		out = append(out, upcomingAt(def, chosen, best, now))
	}

	slices.SortStableFunc(out, byDiff)
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

// InRange lists every occurrence whose signed distance from now lies within
// [minOffset, maxOffset], folding across midnight once in either direction.
// A definition appears once per matching occurrence.
func InRange(defs []model.EventDefinition, now Clock, minOffset, maxOffset int) []model.UpcomingEvent {
	var out []model.UpcomingEvent

	for _, def := range defs {
		for i, spawn := range def.SpawnTimesUTC {
			diff := spawn - now.Minute
			if diff > maxOffset {
				diff -= MinutesPerDay
			} else if diff < minOffset {
				diff += MinutesPerDay
			}
			if diff < minOffset || diff > maxOffset {
				continue
			}
			out = append(out, upcomingAt(def, i, diff, now))
		}
	}

	slices.SortStableFunc(out, byDiff)
	return out
}

func upcomingAt(def model.EventDefinition, i, diff int, now Clock) model.UpcomingEvent {
	duration := DefaultDurationMinutes
	if i < len(def.DurationsUTC) {
		duration = def.DurationsUTC[i]
	}
	return model.UpcomingEvent{
		Definition:             def,
		SpawnMinuteUTC:         def.SpawnTimesUTC[i],
		MinutesUntilSpawn:      diff,
		ExactMinutesUntilSpawn: now.Exact(diff),
		DurationMinutes:        duration,
	}
}

func byDiff(a, b model.UpcomingEvent) int {
	return a.MinutesUntilSpawn - b.MinutesUntilSpawn
}
