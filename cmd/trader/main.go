// Package main runs a random trader against a project: it registers an
// account and issues a stream of buys, sells, and balance checks. Handy
// for exercising a freshly deployed cluster.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/nsvirk/stockmarket/internal/config"
	"github.com/nsvirk/stockmarket/internal/market"
	"github.com/nsvirk/stockmarket/pkg/endpoint"
	"github.com/nsvirk/stockmarket/pkg/utils/zaplogger"
)

func main() {
	defer zaplogger.Sync()

	interval := flag.Duration("interval", time.Second, "delay between actions")
	flag.Parse()
	project := flag.Arg(0)
	username := flag.Arg(1)
	if project == "" || username == "" {
		fmt.Fprintln(os.Stderr, "usage: trader [-interval 1s] <project> <username>")
		os.Exit(2)
	}

	cfg, err := config.Get()
	if err != nil {
		zaplogger.Fatal("failed to load configuration", zaplogger.Fields{"error": err.Error()})
	}
	zaplogger.SetLogLevel(cfg.LogLevel)

	ep, err := endpoint.New(cfg.CatalogHost, project, username, username+"-pw")
	if err != nil {
		zaplogger.Fatal("failed to connect", zaplogger.Fields{"error": err.Error()})
	}
	defer ep.Close()

	if _, err := ep.Register(true); err != nil {
		zaplogger.Fatal("failed to register", zaplogger.Fields{"error": err.Error()})
	}
	zaplogger.Info("trading", zaplogger.Fields{"project": project, "username": username})

	for {
		time.Sleep(*interval)

		ticker := market.Tickers[rand.Intn(len(market.Tickers))]
		amount := int64(rand.Intn(10) + 1)

		switch rand.Intn(10) {
		case 0:
			balance, err := ep.GetBalance()
			if err != nil {
				zaplogger.Warn("balance failed", zaplogger.Fields{"error": err.Error()})
				continue
			}
			zaplogger.Info("balance", zaplogger.Fields{"value": fmt.Sprint(balance)})
		case 1:
			board, err := ep.GetLeaderboard()
			if err != nil {
				zaplogger.Warn("leaderboard failed", zaplogger.Fields{"error": err.Error()})
				continue
			}
			fmt.Println(board)
		case 2, 3, 4:
			resp := ep.Sell(ticker, amount)
			zaplogger.Info("sell", zaplogger.Fields{
				"ticker": ticker, "company": market.CompanyName(ticker),
				"amount": amount, "success": resp.Success,
			})
		default:
			resp := ep.Buy(ticker, amount)
			zaplogger.Info("buy", zaplogger.Fields{
				"ticker": ticker, "company": market.CompanyName(ticker),
				"amount": amount, "success": resp.Success,
			})
		}
	}
}
