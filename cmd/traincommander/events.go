package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli"

	"traincommander/internal/ics"
	"traincommander/internal/model"
)

var (
	upcomingLimit int
	windowMin     int
	windowMax     int
	icsOut        string

	upcomingFlags = []cli.Flag{
		cli.IntFlag{
			Name:        "limit, n",
			Usage:       "maximum number of events, 0 for all (default: config upcoming_limit)",
			Value:       -1,
			Destination: &upcomingLimit,
		},
	}

	windowFlags = []cli.Flag{
		cli.IntFlag{
			Name:        "min",
			Usage:       "window start in minutes relative to now (default: config timeline.min_offset)",
			Destination: &windowMin,
		},
		cli.IntFlag{
			Name:        "max",
			Usage:       "window end in minutes relative to now (default: config timeline.max_offset)",
			Destination: &windowMax,
		},
	}

	rangeFlags = windowFlags

	icsFlags = append(append([]cli.Flag{}, windowFlags...), cli.StringFlag{
		Name:        "out, o",
		Usage:       "write the calendar to this file instead of stdout",
		Destination: &icsOut,
	})
)

func upcoming(ctx *cli.Context) error {
	conf, err := loadConfig()
	if err != nil {
		return err
	}
	cat, err := fetchCatalog(context.Background(), conf)
	if err != nil {
		return err
	}

	limit := upcomingLimit
	if limit < 0 {
		limit = conf.UpcomingLimit
	}
	printEvents(os.Stdout, cat.GetUpcomingEvents(limit), cat.Now())
	return nil
}

func inRange(ctx *cli.Context) error {
	conf, err := loadConfig()
	if err != nil {
		return err
	}
	minOffset, maxOffset, err := window(ctx, conf.Timeline.MinOffset, conf.Timeline.MaxOffset)
	if err != nil {
		return err
	}
	cat, err := fetchCatalog(context.Background(), conf)
	if err != nil {
		return err
	}
	printEvents(os.Stdout, cat.GetEventsInRange(minOffset, maxOffset), cat.Now())
	return nil
}

func exportICS(ctx *cli.Context) error {
	conf, err := loadConfig()
	if err != nil {
		return err
	}
	minOffset, maxOffset, err := window(ctx, conf.Timeline.MinOffset, conf.Timeline.MaxOffset)
	if err != nil {
		return err
	}
	cat, err := fetchCatalog(context.Background(), conf)
	if err != nil {
		return err
	}

	body := ics.Export(cat.GetEventsInRange(minOffset, maxOffset), cat.Now())
	if icsOut == "" {
		_, err = io.WriteString(os.Stdout, body)
		return err
	}
	return os.WriteFile(icsOut, []byte(body), 0o644)
}

// window resolves --min/--max against the configured timeline.
func window(ctx *cli.Context, defMin, defMax int) (int, int, error) {
	minOffset, maxOffset := defMin, defMax
	if ctx.IsSet("min") {
		minOffset = windowMin
	}
	if ctx.IsSet("max") {
		maxOffset = windowMax
	}
	if minOffset > maxOffset {
		return 0, 0, fmt.Errorf("window min %d exceeds max %d", minOffset, maxOffset)
	}
	return minOffset, maxOffset, nil
}

func printEvents(w io.Writer, events []model.UpcomingEvent, now time.Time) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SPAWN (UTC)\tIN\tDURATION\tEVENT\tCATEGORY\tWAYPOINT")
	for _, ev := range events {
		fmt.Fprintf(tw, "%s\t%s\t%dm\t%s\t%s\t%s\n",
			ics.SpawnInstant(ev, now).Format("15:04"),
			formatCountdown(ev.ExactMinutesUntilSpawn),
			ev.DurationMinutes,
			ev.Definition.Name,
			ev.Definition.Category,
			ev.Definition.WaypointCode,
		)
	}
	_ = tw.Flush()
}

func formatCountdown(minutes float64) string {
	d := time.Duration(minutes * float64(time.Minute)).Round(time.Second)
	if d <= 0 {
		return "started " + (-d).String() + " ago"
	}
	return d.String()
}
