// Package main runs the broker front end for one project.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/robfig/cron/v3"

	"github.com/nsvirk/stockmarket/internal/broker"
	"github.com/nsvirk/stockmarket/internal/catalog"
	"github.com/nsvirk/stockmarket/internal/config"
	"github.com/nsvirk/stockmarket/internal/telemetry"
	"github.com/nsvirk/stockmarket/pkg/utils/zaplogger"
)

func main() {
	defer zaplogger.Sync()

	flag.Parse()
	project := flag.Arg(0)
	numShards, err := strconv.Atoi(flag.Arg(1))
	if project == "" || err != nil || numShards < 1 {
		fmt.Fprintln(os.Stderr, "usage: broker <project> <num-shards>")
		os.Exit(2)
	}

	cfg, err := config.Get()
	if err != nil {
		zaplogger.Fatal("failed to load configuration", zaplogger.Fields{"error": err.Error()})
	}
	zaplogger.SetLogLevel(cfg.LogLevel)
	zaplogger.Info("starting broker", zaplogger.Fields{"project": project, "shards": numShards})

	b, err := broker.New(cfg, project, numShards)
	if err != nil {
		zaplogger.Fatal("failed to start broker", zaplogger.Fields{"error": err.Error()})
	}

	ann, err := catalog.NewAnnouncer(cfg.CatalogHost, catalog.Announcement{
		Type:    catalog.TypeBroker,
		Owner:   cfg.Owner,
		Port:    b.Port(),
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
	// The leaderboard snapshot is refreshed on the same cadence as the
	// catalog heartbeat.
	if _, err := c.AddFunc("@every 60s", b.TriggerLeaderboard); err != nil {
		zaplogger.Fatal("failed to schedule leaderboard rebuild", zaplogger.Fields{"error": err.Error()})
	}
	c.Start()
	defer c.Stop()

	telemetry.Serve(cfg.MetricsAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := b.Run(ctx); err != nil {
		zaplogger.Fatal("broker stopped", zaplogger.Fields{"error": err.Error()})
	}
}
