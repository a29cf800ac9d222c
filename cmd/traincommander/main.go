package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli"

	"traincommander/internal/catalog"
	"traincommander/internal/config"
	"traincommander/internal/feed"
	appLog "traincommander/internal/log"
	"traincommander/internal/train"
)

const version = "1.1.0"

var configPath string

func main() {
	if err := newApp().Run(os.Args); err != nil {
		appLog.Error("traincommander failed", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:      "traincommander",
		HelpName:  "traincommander",
		Usage:     "event schedule and checklist companion",
		UsageText: "traincommander [--config path] <command> [arguments...]",
		Version:   version,
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:        "config, c",
				Usage:       "path to the YAML config file",
				Value:       "./traincommander.yaml",
				Destination: &configPath,
			},
		},
		Commands: []cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API with background feed refresh",
				Action: serve,
				Flags:  serveFlags,
			},
			{
				Name:   "upcoming",
				Usage:  "print the next occurrence of every event",
				Action: upcoming,
				Flags:  upcomingFlags,
			},
			{
				Name:   "range",
				Usage:  "print every occurrence inside a minute window around now",
				Action: inRange,
				Flags:  rangeFlags,
			},
			{
				Name:   "ics",
				Usage:  "write the occurrences inside a window as iCalendar",
				Action: exportICS,
				Flags:  icsFlags,
			},
			{
				Name:      "export",
				Usage:     "print the share code of a train",
				ArgsUsage: "<train index>",
				Action:    exportTrain,
			},
			{
				Name:      "import",
				Usage:     "add a train from a share code",
				ArgsUsage: "<share code>",
				Action:    importTrain,
			},
		},
		Action: serve,
	}
}

// loadConfig reads the config file and applies the configured log level.
func loadConfig() (*config.Config, error) {
	conf, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", configPath, err)
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	return conf, nil
}

func newFetcher(conf *config.Config) *feed.Fetcher {
	return feed.NewFetcher(conf.FeedURL, conf.FeedCacheDir(), feed.WithUserAgent(conf.UserAgent))
}

func newTrainManager(conf *config.Config) (*train.Manager, error) {
	mgr := train.NewManager(train.NewStore(nil, conf.TrainsPath()))
	if err := mgr.Load(); err != nil {
		return mgr, err
	}
	return mgr, nil
}

// fetchCatalog performs one synchronous refresh for the one-shot commands.
func fetchCatalog(ctx context.Context, conf *config.Config) (*catalog.Catalog, error) {
	cat := catalog.New(newFetcher(conf))
	done, _ := cat.Refresh(ctx)
	<-done
	cat.Close()

	if err := cat.LastError(); err != nil {
		return nil, err
	}
	if cat.Status().Generation == 0 {
		return nil, errors.New("feed refresh produced no catalog")
	}
	return cat, nil
}
