package feed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	appLog "traincommander/internal/log"
	"traincommander/internal/model"
	"traincommander/internal/schedule"
)

var (
	// ErrEmpty means the document parsed but yielded no event definitions.
	ErrEmpty = errors.New("feed: empty document")
	// ErrMalformed means the document is not valid JSON or has fields of the
	// wrong type.
	ErrMalformed = errors.New("feed: malformed document")
)

// Document mirrors the event track feed. Pointer fields distinguish
// "absent" from zero so that defaults can be applied.
type Document struct {
	Categories []Category `json:"categories"`
}

type Category struct {
	Name   *string `json:"name"`
	Tracks []Track `json:"tracks"`
}

type Track struct {
	Name               *string    `json:"name"`
	BaseTimeCalculator *string    `json:"base_time_calculator"`
	Schedules          []Schedule `json:"schedules"`
}

type Schedule struct {
	Name     *string `json:"name"`
	CopyText *string `json:"copy_text"`
	Duration *int    `json:"duration"`
	Offset   *int    `json:"offset"`
	Interval *int    `json:"interval"`
}

// Parse converts a raw feed document into event definitions, projecting
// every schedule onto UTC minutes of the day as of now.
//
// The whole batch fails with ErrMalformed or ErrEmpty; in that case the
// caller must keep its previous catalog. Individual schedules without a
// copy_text (waypoint) are skipped.
func Parse(body []byte, now time.Time) ([]model.EventDefinition, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrEmpty
	}

	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	defs := make([]model.EventDefinition, 0)
	skipped := 0

	for _, cat := range doc.Categories {
		catName := stringOr(cat.Name, "Unknown")

		for _, tr := range cat.Tracks {
			trackName := stringOr(tr.Name, "Unknown")
			anchor := schedule.Anchor(stringOr(tr.BaseTimeCalculator, string(schedule.AnchorLocalDayStart)))

			base, err := schedule.BaseMinute(anchor, now)
			if err != nil {
				appLog.Warn("feed track has unknown base time; anchoring at minute 0",
					"category", catName,
					"track", trackName,
					"base_time_calculator", anchor,
				)
			}

			for _, sc := range tr.Schedules {
				def, ok := buildDefinition(sc, catName, trackName, anchor, base)
				if !ok {
					skipped++
					continue
				}
				defs = append(defs, def)
			}
		}
	}

	if len(defs) == 0 {
		return nil, ErrEmpty
	}

	appLog.Info("feed parse completed", "event_count", len(defs), "skipped", skipped)
	return defs, nil
}

func buildDefinition(sc Schedule, category, track string, anchor schedule.Anchor, base int) (model.EventDefinition, bool) {
	name := stringOr(sc.Name, "Unknown Event")
	wp := stringOr(sc.CopyText, "")
	if wp == "" {
		appLog.Debug("feed schedule skipped: no copy_text", "track", track, "name", name)
		return model.EventDefinition{}, false
	}

	duration := intOr(sc.Duration, schedule.DefaultDurationMinutes)
	if duration <= 0 {
		duration = schedule.DefaultDurationMinutes
	}
	occ := schedule.Expand(base, intOr(sc.Offset, 0), duration, intOr(sc.Interval, 0), anchor.IsWorldCycle())
	spawns, durations := schedule.Split(occ)

	return model.EventDefinition{
		Name:                name,
		Category:            category,
		Track:               track,
		WaypointCode:        wp,
		DefaultSquadMessage: "Next up: " + name + " " + wp,
		SpawnTimesUTC:       spawns,
		DurationsUTC:        durations,
	}, true
}

func stringOr(p *string, def string) string {
	if p == nil {
		return def
	}
	return *p
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}
