package schedule

import (
	"math"
	"testing"
	"time"

	"traincommander/internal/model"
)

func def(name string, spawns ...int) model.EventDefinition {
	durations := make([]int, len(spawns))
	for i := range durations {
		durations[i] = 15
	}
	return model.EventDefinition{Name: name, SpawnTimesUTC: spawns, DurationsUTC: durations}
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestNow(t *testing.T) {
	c := Now(time.Date(2026, 1, 2, 7, 59, 30, 250*int(time.Millisecond), time.UTC))
	if c.Minute != 479 {
		t.Fatalf("Minute = %d, want 479", c.Minute)
	}
	want := 30.0/60 + 250.0/60000
	if !approx(c.Fraction, want) {
		t.Fatalf("Fraction = %v, want %v", c.Fraction, want)
	}

	// Non-UTC input is reduced in UTC.
	loc := time.FixedZone("UTC-3", -3*3600)
	c = Now(time.Date(2026, 1, 2, 0, 0, 0, 0, loc))
	if c.Minute != 180 {
		t.Fatalf("Minute = %d, want 180", c.Minute)
	}
}

func TestUpcomingPicksNearestAhead(t *testing.T) {
	defs := []model.EventDefinition{def("Shadow Behemoth", 0, 480, 960)}
	now := Clock{Minute: 479, Fraction: 0.5}

	got := Upcoming(defs, now, 0)
	if len(got) != 1 {
		t.Fatalf("len = %d", len(got))
	}
	ev := got[0]
	if ev.SpawnMinuteUTC != 480 || ev.MinutesUntilSpawn != 1 {
		t.Fatalf("picked spawn %d diff %d, want 480 / 1", ev.SpawnMinuteUTC, ev.MinutesUntilSpawn)
	}
	if !approx(ev.ExactMinutesUntilSpawn, 0.5) {
		t.Fatalf("exact = %v, want 0.5", ev.ExactMinutesUntilSpawn)
	}
	if ev.DurationMinutes != 15 {
		t.Fatalf("duration = %d", ev.DurationMinutes)
	}
}

func TestUpcomingKeepsRecentlyStarted(t *testing.T) {
	defs := []model.EventDefinition{def("Tequatl", 600, 900)}

	got := Upcoming(defs, Clock{Minute: 615}, 0)
	if got[0].SpawnMinuteUTC != 600 || got[0].MinutesUntilSpawn != -15 {
		t.Fatalf("got %d/%d, want 600/-15", got[0].SpawnMinuteUTC, got[0].MinutesUntilSpawn)
	}

	got = Upcoming(defs, Clock{Minute: 616}, 0)
	if got[0].SpawnMinuteUTC != 900 || got[0].MinutesUntilSpawn != 284 {
		t.Fatalf("got %d/%d, want 900/284", got[0].SpawnMinuteUTC, got[0].MinutesUntilSpawn)
	}
}

func TestUpcomingFallsBackToTomorrow(t *testing.T) {
	d := model.EventDefinition{
		Name:          "Karka Queen",
		SpawnTimesUTC: []int{120, 360},
		DurationsUTC:  []int{20, 25},
	}
	now := Clock{Minute: 1400, Fraction: 0.25}

	got := Upcoming([]model.EventDefinition{d}, now, 0)
	ev := got[0]
	if ev.SpawnMinuteUTC != 120 || ev.MinutesUntilSpawn != 160 {
		t.Fatalf("got %d/%d, want 120/160", ev.SpawnMinuteUTC, ev.MinutesUntilSpawn)
	}
	if ev.DurationMinutes != 20 {
		t.Fatalf("fallback duration = %d, want the paired 20", ev.DurationMinutes)
	}
	if !approx(ev.ExactMinutesUntilSpawn, 159.75) {
		t.Fatalf("exact = %v", ev.ExactMinutesUntilSpawn)
	}
}

func TestUpcomingOrderingAndLimit(t *testing.T) {
	defs := []model.EventDefinition{
		def("C", 700),
		def("A", 505),
		def("Empty"),
		def("B", 600),
		def("Tomorrow", 100),
	}
	now := Clock{Minute: 500}

	got := Upcoming(defs, now, 0)
	names := []string{}
	for _, ev := range got {
		names = append(names, ev.Definition.Name)
	}
	want := []string{"A", "B", "C", "Tomorrow"}
	if len(names) != len(want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names = %v, want %v", names, want)
		}
	}

	if got := Upcoming(defs, now, 2); len(got) != 2 || got[1].Definition.Name != "B" {
		t.Fatalf("limit 2 = %+v", got)
	}
	if got := Upcoming(defs, now, 10); len(got) != 4 {
		t.Fatalf("limit larger than result truncated: %d", len(got))
	}
}

func TestInRangeBoundaries(t *testing.T) {
	now := Clock{Minute: 600}
	defs := []model.EventDefinition{
		def("plus121", 721), // diff 121, wraps to -1319, excluded
		def("minus16", 584), // diff -16, wraps to 1424, excluded
		def("minus10", 590), // diff -10, included
		def("plus120", 720), // diff 120, included
		def("minus15", 585), // diff -15, included
		def("now", 600),     // diff 0
	}

	got := InRange(defs, now, -15, 120)
	want := []struct {
		name string
		diff int
	}{
		{"minus15", -15},
		{"minus10", -10},
		{"now", 0},
		{"plus120", 120},
	}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d: %+v", len(got), len(want), got)
	}
	for i, w := range want {
		if got[i].Definition.Name != w.name || got[i].MinutesUntilSpawn != w.diff {
			t.Fatalf("[%d] = %s/%d, want %s/%d", i, got[i].Definition.Name, got[i].MinutesUntilSpawn, w.name, w.diff)
		}
	}
}

func TestInRangeAcrossMidnight(t *testing.T) {
	defs := []model.EventDefinition{def("Night", 5, 1435)}

	// Just before midnight: 5 is tomorrow, 1435 started 3 minutes ago.
	got := InRange(defs, Clock{Minute: 1438, Fraction: 0.5}, -15, 120)
	if len(got) != 2 {
		t.Fatalf("len = %d", len(got))
	}
	if got[0].MinutesUntilSpawn != -3 || got[1].MinutesUntilSpawn != 7 {
		t.Fatalf("diffs = %d, %d; want -3, 7", got[0].MinutesUntilSpawn, got[1].MinutesUntilSpawn)
	}
	if !approx(got[1].ExactMinutesUntilSpawn, 6.5) {
		t.Fatalf("exact = %v", got[1].ExactMinutesUntilSpawn)
	}

	// Just after midnight: 1435 started 7 minutes ago (yesterday).
	got = InRange(defs, Clock{Minute: 2}, -15, 120)
	if len(got) != 2 || got[0].SpawnMinuteUTC != 1435 || got[0].MinutesUntilSpawn != -7 {
		t.Fatalf("got %+v", got)
	}
}

func TestInRangeEmitsEveryOccurrence(t *testing.T) {
	d := def("Frequent", 600, 630, 660, 690, 900)
	got := InRange([]model.EventDefinition{d}, Clock{Minute: 600}, -15, 120)
	if len(got) != 4 {
		t.Fatalf("len = %d, want 4", len(got))
	}
	for _, ev := range got {
		if ev.Definition.Name != "Frequent" {
			t.Fatalf("unexpected %s", ev.Definition.Name)
		}
	}
}

func TestInRangeMissingDurationDefaults(t *testing.T) {
	d := model.EventDefinition{Name: "Legacy", SpawnTimesUTC: []int{610}}
	got := InRange([]model.EventDefinition{d}, Clock{Minute: 600}, 0, 60)
	if len(got) != 1 || got[0].DurationMinutes != DefaultDurationMinutes {
		t.Fatalf("got %+v", got)
	}
}
