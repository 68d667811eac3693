// Package main runs the market simulator for one project.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"

	"github.com/nsvirk/stockmarket/internal/catalog"
	"github.com/nsvirk/stockmarket/internal/config"
	"github.com/nsvirk/stockmarket/internal/simulator"
	"github.com/nsvirk/stockmarket/internal/telemetry"
	"github.com/nsvirk/stockmarket/pkg/utils/zaplogger"
)

func main() {
	defer zaplogger.Sync()

	flag.Parse()
	project := flag.Arg(0)
	if project == "" {
		fmt.Fprintln(os.Stderr, "usage: simulator <project>")
		os.Exit(2)
	}

	cfg, err := config.Get()
	if err != nil {
		zaplogger.Fatal("failed to load configuration", zaplogger.Fields{"error": err.Error()})
	}
	zaplogger.SetLogLevel(cfg.LogLevel)
	zaplogger.Info("starting simulator", zaplogger.Fields{"project": project})

	sim, err := simulator.New(cfg, project)
	if err != nil {
		zaplogger.Fatal("failed to start simulator", zaplogger.Fields{"error": err.Error()})
	}

	ann, err := catalog.NewAnnouncer(cfg.CatalogHost, catalog.Announcement{
		Type:    catalog.TypeSimulator,
		Owner:   cfg.Owner,
		Port:    sim.Port(),
		Project: project,
	})
	if err != nil {
		zaplogger.Fatal("failed to set up catalog announcer", zaplogger.Fields{"error": err.Error()})
	}
	defer ann.Close()

	c := cron.New()
	if err := ann.Start(c); err != nil {
		zaplogger.Fatal("failed to schedule announcements", zaplogger.Fields{"error": err.Error()})
	}
	c.Start()
	defer c.Stop()

	telemetry.Serve(cfg.MetricsAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sim.Run(ctx); err != nil {
		zaplogger.Fatal("simulator stopped", zaplogger.Fields{"error": err.Error()})
	}
}
