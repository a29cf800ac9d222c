// Package schedule projects cyclic event schedules onto UTC minutes of the day
// and answers "what is next" / "what is in this window" queries against them.
package schedule

import (
	"errors"
	"time"
)

const (
	MinutesPerDay = 24 * 60
	secondsPerDay = MinutesPerDay * 60

	// ReferenceOffset is the fixed offset from UTC of the timezone whose
	// midnight anchors "local_day_start" tracks.
	ReferenceOffset = -3 * time.Hour

	// WorldCycleMinutes is the length of one in-game day/night cycle.
	WorldCycleMinutes = 120

	// worldCycleReference is 2025-09-30 17:00:00 UTC-3, the start of a cycle.
	worldCycleReference = 1759262400
)

// ErrUnknownAnchor is returned for base_time_calculator values that are not
// one of the Anchor constants.
var ErrUnknownAnchor = errors.New("unknown base time anchor")

// Anchor names how a track's schedule offsets are measured.
type Anchor string

const (
	AnchorLocalDayStart Anchor = "local_day_start"
	AnchorTyriaCycle    Anchor = "tyria_cycle"
	AnchorCanthaCycle   Anchor = "cantha_cycle"
)

// IsWorldCycle reports whether offsets repeat every WorldCycleMinutes.
func (a Anchor) IsWorldCycle() bool {
	return a == AnchorTyriaCycle || a == AnchorCanthaCycle
}

// Known reports whether a is one of the supported anchors.
func (a Anchor) Known() bool {
	return a == AnchorLocalDayStart || a.IsWorldCycle()
}

// BaseMinute returns the UTC minute of the day that offsets of a track with
// anchor a are measured from, evaluated at now. Unknown anchors yield 0 and
// ErrUnknownAnchor.
func BaseMinute(a Anchor, now time.Time) (int, error) {
	switch {
	case a == AnchorLocalDayStart:
		return LocalDayStartMinute(now), nil
	case a.IsWorldCycle():
		return WorldCycleStartMinute(now), nil
	default:
		return 0, ErrUnknownAnchor
	}
}

// LocalDayStartMinute returns the UTC minute of the day at which the most
// recent midnight in the ReferenceOffset timezone occurred.
func LocalDayStartMinute(now time.Time) int {
	unix := now.Unix()
	sinceMidnight := mod64(unix+int64(ReferenceOffset/time.Second), secondsPerDay)
	return minuteOfDay(unix - sinceMidnight)
}

// WorldCycleStartMinute returns the UTC minute of the day at which the world
// cycle containing now began.
func WorldCycleStartMinute(now time.Time) int {
	const cycleSeconds = WorldCycleMinutes * 60
	elapsed := now.Unix() - worldCycleReference
	start := worldCycleReference + floorDiv64(elapsed, cycleSeconds)*cycleSeconds
	return minuteOfDay(start)
}

// Wrap folds any minute count into [0, MinutesPerDay).
func Wrap(minute int) int {
	m := minute % MinutesPerDay
	if m < 0 {
		m += MinutesPerDay
	}
	return m
}

func minuteOfDay(unix int64) int {
	return int(mod64(unix, secondsPerDay) / 60)
}

func mod64(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

func floorDiv64(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
