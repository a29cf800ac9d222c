package train

import (
	"time"

	"traincommander/internal/model"
)

const (
	secondsPerDay = 24 * 60 * 60

	// ImminentSeconds is how close a spawn must be to count as imminent.
	ImminentSeconds = 5 * 60
)

// CountdownState classifies a step's next spawn.
type CountdownState string

const (
	CountdownActive    CountdownState = "active"
	CountdownImminent  CountdownState = "imminent"
	CountdownScheduled CountdownState = "scheduled"
)

// Countdown is the time until (or since) a step's daily spawn.
type Countdown struct {
	Seconds int            `json:"seconds"` // negative while active
	State   CountdownState `json:"state"`
}

// SecondsUntilDailySpawn returns the seconds from now to the spawn at
// spawnMinute (UTC minute of the day). The result is negative while the
// spawn is within its duration window; once the window is over the next
// day's spawn is reported.
func SecondsUntilDailySpawn(spawnMinute, durationMinutes int, now time.Time) int {
	now = now.UTC()
	current := now.Hour()*3600 + now.Minute()*60 + now.Second()
	diff := spawnMinute*60 - current
	if diff > 0 {
		return diff
	}
	if diff > -durationMinutes*60 {
		return diff
	}
	return diff + secondsPerDay
}

// CountdownFor returns the countdown of a scheduled step.
func CountdownFor(step model.TrainStep, now time.Time) (Countdown, bool) {
	if !step.Scheduled() {
		return Countdown{}, false
	}
	secs := SecondsUntilDailySpawn(step.SpawnMinuteUTC, step.DurationMinutes, now)
	switch {
	case secs < 0:
		return Countdown{Seconds: secs, State: CountdownActive}, true
	case secs < ImminentSeconds:
		return Countdown{Seconds: secs, State: CountdownImminent}, true
	default:
		return Countdown{Seconds: secs, State: CountdownScheduled}, true
	}
}
