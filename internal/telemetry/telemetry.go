// Package telemetry exposes the prometheus metrics shared by the
// daemons. Serving is optional; daemons only start the endpoint when a
// metrics address is configured.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nsvirk/stockmarket/pkg/utils/zaplogger"
)

var (
	// BrokerRequests counts client requests the broker has completed.
	BrokerRequests = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sm_broker_requests_total",
		Help: "Total number of client requests completed by the broker",
	})

	// BrokerPending tracks queued requests per shard.
	BrokerPending = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sm_broker_pending_requests",
		Help: "Requests waiting in the per-shard pending queue",
	}, []string{"shard"})

	// BrokerBusyRejects counts requests rejected by the pending cap.
	BrokerBusyRejects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sm_broker_busy_rejects_total",
		Help: "Requests rejected because a shard's pending queue was full",
	})

	// ReplicatorRequests counts requests a shard has applied.
	ReplicatorRequests = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sm_replicator_requests_total",
		Help: "Total number of requests applied by this shard",
	})

	// SimPublishes counts price updates published by the simulator.
	SimPublishes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sm_sim_publishes_total",
		Help: "Total number of price updates published",
	})

	// SimSubscribers tracks live simulator subscriptions.
	SimSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sm_sim_subscribers",
		Help: "Current number of live price stream subscriptions",
	})
)

func init() {
	prometheus.MustRegister(
		BrokerRequests,
		BrokerPending,
		BrokerBusyRejects,
		ReplicatorRequests,
		SimPublishes,
		SimSubscribers,
	)
}

// Serve exposes /metrics on addr if addr is non-empty.
func Serve(addr string) {
	if addr == "" {
		return
	}
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		zaplogger.Info("metrics endpoint started", zaplogger.Fields{"addr": addr})
		if err := http.ListenAndServe(addr, mux); err != nil {
			zaplogger.Error("metrics endpoint failed", zaplogger.Fields{"error": err.Error()})
		}
	}()
}
