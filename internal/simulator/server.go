package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/nsvirk/stockmarket/internal/config"
	"github.com/nsvirk/stockmarket/internal/market"
	"github.com/nsvirk/stockmarket/internal/telemetry"
	"github.com/nsvirk/stockmarket/internal/wire"
	"github.com/nsvirk/stockmarket/pkg/utils/zaplogger"
)

// helloTimeout bounds how long a fresh connection may take to identify
// itself.
const helloTimeout = 60 * time.Second

// helloEvent carries an identified connection into the tick loop.
type helloEvent struct {
	hello market.Hello
	conn  net.Conn
}

// Simulator drives the price synthesis and publish pipeline. All state
// is owned by the Run loop; the accept path only queues hello events.
type Simulator struct {
	project string

	publishRate time.Duration
	updateRate  time.Duration
	minuteRate  time.Duration

	bars    map[string][]Bar
	minute  int
	samples int
	next    map[string][]float64
	tick    int
	rng     *rand.Rand

	ln     net.Listener
	pub    *net.UDPConn
	hellos chan helloEvent

	subs    *subscriptions
	delayed [][]byte
	broker  net.Conn
}

// New loads the minute bars, derives the cadences from the configured
// speedups, and binds the listen and publish sockets.
func New(cfg *config.Config, project string) (*Simulator, error) {
	bars, err := LoadBars(cfg.BarsDir)
	if err != nil {
		return nil, err
	}

	speedup := time.Duration(cfg.Speedup)
	if speedup < 1 {
		speedup = 1
	}
	s := &Simulator{
		project:     project,
		publishRate: market.PublishRate / speedup,
		updateRate:  market.UpdateRate / speedup,
		minuteRate:  time.Duration(cfg.MinuteSpeedup) * market.MinuteRate / speedup,
		bars:        bars,
		minute:      1,
		hellos:      make(chan helloEvent, 64),
		subs:        newSubscriptions(),
	}
	s.samples = int(s.minuteRate / s.updateRate)

	seed := cfg.SimSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	s.rng = rand.New(rand.NewSource(seed))
	s.advanceMinute()

	s.ln, err = net.Listen("tcp", ":0")
	if err != nil {
		return nil, fmt.Errorf("simulator listen: %w", err)
	}
	s.pub, err = net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		s.ln.Close()
		return nil, fmt.Errorf("simulator publish socket: %w", err)
	}
	zaplogger.Info("simulator listening", zaplogger.Fields{
		"port":    s.Port(),
		"samples": s.samples,
	})
	return s, nil
}

// Port returns the bound listen port, for catalog registration.
func (s *Simulator) Port() int { return s.ln.Addr().(*net.TCPAddr).Port }

// advanceMinute consumes the next bar of every ticker and resamples the
// intra-minute path. Bars are never revisited; when the history runs
// out the simulator holds the final bar.
func (s *Simulator) advanceMinute() {
	s.next = make(map[string][]float64, len(market.Tickers))
	for _, t := range market.Tickers {
		series := s.bars[t]
		idx := s.minute
		if idx >= len(series) {
			idx = len(series) - 1
		}
		s.next[t] = sampleMinute(series[idx], s.samples, s.rng)
	}
	s.minute++
	s.tick = 0
}

// Run drives the tick loop until the context is cancelled.
func (s *Simulator) Run(ctx context.Context) error {
	go s.acceptLoop(ctx)

	ticker := time.NewTicker(s.updateRate)
	defer ticker.Stop()

	lastMinute := time.Now()
	lastPublish := time.Now()
	for {
		select {
		case <-ctx.Done():
			s.ln.Close()
			s.pub.Close()
			return nil
		case ev := <-s.hellos:
			s.handleHello(ev)
		case now := <-ticker.C:
			if now.Sub(lastMinute) > s.minuteRate {
				lastMinute = now
				s.advanceMinute()
			}
			if s.tick < s.samples {
				s.tick++
			}
			if now.Sub(lastPublish) > s.publishRate {
				lastPublish = now
				s.publish(now)
			}
		}
	}
}

func (s *Simulator) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			zaplogger.Warn("simulator accept failed", zaplogger.Fields{"error": err.Error()})
			return
		}
		go func(conn net.Conn) {
			conn.SetReadDeadline(time.Now().Add(helloTimeout))
			var hello market.Hello
			if err := wire.NewDecoder(conn).DecodeInto(&hello); err != nil {
				conn.Close()
				return
			}
			conn.SetReadDeadline(time.Time{})
			s.hellos <- helloEvent{hello: hello, conn: conn}
		}(conn)
	}
}

// handleHello promotes a broker connection or registers a subscriber.
func (s *Simulator) handleHello(ev helloEvent) {
	if ev.hello.Type == market.HelloBroker {
		if s.broker != nil {
			s.broker.Close()
		}
		s.broker = ev.conn
		zaplogger.Info("broker connected", zaplogger.Fields{"addr": ev.conn.RemoteAddr().String()})
		return
	}
	// subscriber hello: record the UDP destination and drop the TCP side
	now := time.Now().UnixNano()
	if err := s.subs.add(ev.hello.Hostname, ev.hello.Port, now); err != nil {
		zaplogger.Warn("subscriber rejected", zaplogger.Fields{"error": err.Error()})
	} else if !ev.hello.Resub {
		zaplogger.Debug("new subscriber", zaplogger.Fields{
			"host": ev.hello.Hostname,
			"port": ev.hello.Port,
		})
	}
	ev.conn.Close()
}

// publish sends the current tick to the broker immediately and to the
// subscribers after the fixed delay: the update enters a bounded queue
// and only the entry D publishes old leaves it for the UDP fan-out.
func (s *Simulator) publish(now time.Time) {
	update := market.StockUpdate{Time: now.UnixNano(), Prices: make(map[string]float64, len(market.Tickers))}
	for _, t := range market.Tickers {
		update.Prices[t] = s.next[t][s.tick]
	}
	payload, err := json.Marshal(update)
	if err != nil {
		zaplogger.Error("unable to marshal update", zaplogger.Fields{"error": err.Error()})
		return
	}
	telemetry.SimPublishes.Inc()

	if s.broker != nil {
		if err := wire.SendRaw(s.broker, payload); err != nil {
			zaplogger.Warn("broker stream broken", zaplogger.Fields{"error": err.Error()})
			s.broker.Close()
			s.broker = nil
		}
	}

	s.delayed = append(s.delayed, payload)
	if len(s.delayed) <= market.ClientDelay {
		return
	}
	delayed := s.delayed[0]
	s.delayed = s.delayed[1:]

	if evicted := s.subs.expire(now.UnixNano()); evicted > 0 {
		zaplogger.Debug("expired subscribers removed", zaplogger.Fields{"count": evicted})
	}
	s.subs.each(func(addr *net.UDPAddr) {
		s.pub.WriteToUDP(delayed, addr)
	})
}
