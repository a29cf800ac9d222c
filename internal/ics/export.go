// Package ics renders upcoming event occurrences as an iCalendar feed.
package ics

import (
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "traincommander/internal/log"
	"traincommander/internal/model"
)

// ProductID identifies the generator in exported calendars.
const ProductID = "-//TrainCommander//Event Schedule//EN"

// Export renders each occurrence as a VEVENT. Spawn instants are placed
// relative to now at minute precision, so the same event list exported
// twice within a minute yields the same UIDs.
func Export(events []model.UpcomingEvent, now time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(ProductID)

	minute := now.UTC().Truncate(time.Minute)
	stamp := now.UTC()

	for _, ev := range events {
		start := SpawnInstant(ev, minute)
		duration := ev.DurationMinutes
		if duration <= 0 {
			duration = 1
		}

		vev := cal.AddEvent(uid(ev.Definition, start))
		vev.SetDtStampTime(stamp)
		vev.SetStartAt(start)
		vev.SetEndAt(start.Add(time.Duration(duration) * time.Minute))
		vev.SetSummary(ev.Definition.Name)
		if ev.Definition.WaypointCode != "" {
			vev.SetLocation(ev.Definition.WaypointCode)
		}
		if ev.Definition.DefaultSquadMessage != "" {
			vev.SetDescription(ev.Definition.DefaultSquadMessage)
		}
	}

	appLog.Debug("ics export rendered", "event_count", len(events))
	return cal.Serialize()
}

// SpawnInstant converts an occurrence's minute offset to an absolute UTC time.
func SpawnInstant(ev model.UpcomingEvent, now time.Time) time.Time {
	return now.UTC().Truncate(time.Minute).Add(time.Duration(ev.MinutesUntilSpawn) * time.Minute)
}

// uid is unique per occurrence: feed entries may share a name across
// categories and tracks.
func uid(def model.EventDefinition, start time.Time) string {
	parts := make([]string, 0, 3)
	for _, s := range []string{def.Category, def.Track, def.Name} {
		if s != "" {
			parts = append(parts, slug(s))
		}
	}
	return fmt.Sprintf("%s-%s@traincommander", strings.Join(parts, "."), start.Format("20060102T1504Z"))
}

func slug(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '-'
		}
	}, s)
}
