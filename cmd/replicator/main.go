// Package main runs one replicator shard: the write-ahead logged user
// table behind the broker.
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

	"github.com/nsvirk/stockmarket/internal/catalog"
	"github.com/nsvirk/stockmarket/internal/config"
	"github.com/nsvirk/stockmarket/internal/replicator"
	"github.com/nsvirk/stockmarket/internal/telemetry"
	"github.com/nsvirk/stockmarket/internal/wal"
	"github.com/nsvirk/stockmarket/pkg/utils/zaplogger"
)

func main() {
	defer zaplogger.Sync()

	flag.Parse()
	project := flag.Arg(0)
	shard, err := strconv.Atoi(flag.Arg(1))
	if project == "" || err != nil || shard < 0 {
		fmt.Fprintln(os.Stderr, "usage: replicator <project> <shard>")
		os.Exit(2)
	}

	cfg, err := config.Get()
	if err != nil {
		zaplogger.Fatal("failed to load configuration", zaplogger.Fields{"error": err.Error()})
	}
	zaplogger.SetLogLevel(cfg.LogLevel)
	zaplogger.Info("starting replicator", zaplogger.Fields{"project": project, "shard": shard})

	log, users, err := wal.Open(cfg.DataDir, shard)
	if err != nil {
		zaplogger.Fatal("failed to recover user table", zaplogger.Fields{"error": err.Error()})
	}
	zaplogger.Info("user table recovered", zaplogger.Fields{"users": len(users)})

	store := replicator.NewStore(log, users)
	srv, err := replicator.NewServer(store, shard)
	if err != nil {
		zaplogger.Fatal("failed to start replicator", zaplogger.Fields{"error": err.Error()})
	}

	ann, err := catalog.NewAnnouncer(cfg.CatalogHost, catalog.Announcement{
		Type:    catalog.ChainType(shard),
		Owner:   cfg.Owner,
		Port:    srv.Port(),
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

	if err := srv.Run(ctx); err != nil {
		zaplogger.Fatal("replicator stopped", zaplogger.Fields{"error": err.Error()})
	}
}
