package model

import "encoding/json"

// EventDefinition is one schedule entry from the event feed, with its daily
// occurrences already projected onto UTC minutes of the day.
//
// SpawnTimesUTC and DurationsUTC are index-aligned, sorted by spawn minute and
// free of duplicate (spawn, duration) pairs. A definition is never mutated
// after the catalog generation holding it has been published.
type EventDefinition struct {
	Name     string `json:"name"`
	Category string `json:"category"` // grouping label, e.g. "World bosses"
	Track    string `json:"track"`

	WaypointCode        string `json:"waypoint_code"`
	DefaultSquadMessage string `json:"default_squad_message"`

	SpawnTimesUTC []int `json:"spawn_times_utc"` // minute of the day (0-1439)
	DurationsUTC  []int `json:"durations_utc"`
}

// Clone returns a copy that shares no slices with d.
func (d EventDefinition) Clone() EventDefinition {
	d.SpawnTimesUTC = append([]int(nil), d.SpawnTimesUTC...)
	d.DurationsUTC = append([]int(nil), d.DurationsUTC...)
	return d
}

// UpcomingEvent is one occurrence of a definition relative to "now".
// MinutesUntilSpawn is negative for occurrences that already started.
type UpcomingEvent struct {
	Definition EventDefinition `json:"definition"`

	SpawnMinuteUTC         int     `json:"spawn_minute_utc"`
	MinutesUntilSpawn      int     `json:"minutes_until_spawn"`
	ExactMinutesUntilSpawn float64 `json:"exact_minutes_until_spawn"`
	DurationMinutes        int     `json:"duration_minutes"`
}

// NoSpawn marks a TrainStep without a scheduled spawn minute.
const NoSpawn = -1

// TrainStep is a single checklist entry. Field names match the persisted
// trains.json document.
type TrainStep struct {
	Title        string `json:"Title"`
	Description  string `json:"Description"`
	WaypointCode string `json:"WaypointCode"`
	SquadMessage string `json:"SquadMessage"`
	Mechanics    string `json:"Mechanics"`

	SpawnMinuteUTC  int `json:"SpawnMinuteUTC"`
	DurationMinutes int `json:"DurationMinutes"`
}

// Scheduled reports whether the step carries a spawn snapshot.
func (s TrainStep) Scheduled() bool {
	return s.SpawnMinuteUTC >= 0
}

// UnmarshalJSON applies the defaults used for steps missing fields.
func (s *TrainStep) UnmarshalJSON(data []byte) error {
	type plain TrainStep
	v := plain{Title: "Step", SpawnMinuteUTC: NoSpawn}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = TrainStep(v)
	return nil
}

// TrainTemplate is a named, ordered checklist.
type TrainTemplate struct {
	Name   string      `json:"Name"`
	Author string      `json:"Author"`
	Steps  []TrainStep `json:"steps"`
}

// UnmarshalJSON applies the defaults used for trains missing fields.
func (t *TrainTemplate) UnmarshalJSON(data []byte) error {
	type plain TrainTemplate
	v := plain{Name: "Unnamed Train", Author: "Unknown"}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if v.Steps == nil {
		v.Steps = []TrainStep{}
	}
	*t = TrainTemplate(v)
	return nil
}

// Clone returns a deep copy of t.
func (t TrainTemplate) Clone() TrainTemplate {
	steps := make([]TrainStep, len(t.Steps))
	copy(steps, t.Steps)
	t.Steps = steps
	return t
}
