// Package main runs a local service catalog for development clusters:
// it collects UDP announcements and serves them over HTTP.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/nsvirk/stockmarket/internal/catalog"
	"github.com/nsvirk/stockmarket/internal/config"
	"github.com/nsvirk/stockmarket/pkg/utils/zaplogger"
)

func main() {
	defer zaplogger.Sync()

	// UDP and HTTP share the port number so a single host:port works as
	// the catalog address for both announcements and queries.
	udpAddr := flag.String("udp", ":9097", "UDP address for service announcements")
	httpAddr := flag.String("http", ":9097", "HTTP address for /query.json")
	flag.Parse()

	cfg, err := config.Get()
	if err != nil {
		zaplogger.Fatal("failed to load configuration", zaplogger.Fields{"error": err.Error()})
	}
	zaplogger.SetLogLevel(cfg.LogLevel)
	zaplogger.Info("starting catalog", zaplogger.Fields{"udp": *udpAddr, "http": *httpAddr})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := catalog.NewServer()
	if err := srv.Run(ctx, *udpAddr, *httpAddr); err != nil {
		zaplogger.Fatal("catalog stopped", zaplogger.Fields{"error": err.Error()})
	}
}
