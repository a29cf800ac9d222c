package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli"

	"traincommander/internal/catalog"
	appLog "traincommander/internal/log"
	"traincommander/internal/web"
)

var (
	listenAddr string

	serveFlags = []cli.Flag{
		cli.StringFlag{
			Name:        "listen, l",
			Usage:       "HTTP listen address (overrides config if set)",
			Destination: &listenAddr,
		},
	}
)

func serve(_ *cli.Context) error {
	appLog.Info("traincommander starting", "version", version)

	conf, err := loadConfig()
	if err != nil {
		return err
	}
	if listenAddr != "" {
		conf.Listen = listenAddr
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"feed_url", conf.FeedURL,
		"refresh", conf.RefreshCron,
		"data_dir", conf.DataDir,
		"timeline_min", conf.Timeline.MinOffset,
		"timeline_max", conf.Timeline.MaxOffset,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			appLog.Info("signal received, shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	trains, err := newTrainManager(conf)
	if err != nil {
		// A broken trains.json must not keep the schedule from serving.
		appLog.Error("failed to load trains; starting with an empty list", err, "path", conf.TrainsPath())
	}

	cat := catalog.New(newFetcher(conf))
	defer cat.Close()

	cat.Refresh(ctx)
	if conf.RefreshEnabled() {
		if err := cat.StartSchedule(ctx, conf.RefreshCron); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr:              conf.Listen,
		Handler:           web.NewServer(conf, cat, trains).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("HTTP server shutdown failed", err)
	}

	appLog.Info("traincommander exiting")
	return nil
}
