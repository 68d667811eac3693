package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/nsvirk/stockmarket/internal/catalog"
	"github.com/nsvirk/stockmarket/internal/config"
	"github.com/nsvirk/stockmarket/internal/market"
	"github.com/nsvirk/stockmarket/internal/wire"
	"github.com/nsvirk/stockmarket/pkg/utils/zaplogger"
)

// client is one connected client endpoint. Its reader goroutine
// delivers at most one request at a time into the event loop and stays
// paused until the loop releases it, so a client can never race itself.
type client struct {
	wc     *wire.Conn
	resume chan struct{}
}

func (c *client) release() {
	select {
	case c.resume <- struct{}{}:
	default:
	}
}

// Event loop messages. Everything that touches router state flows
// through these; producer goroutines never mutate the tables.
type (
	evNewClient struct{ conn net.Conn }
	evClientGone struct {
		c   *client
		err error
	}
	evClientRequest struct {
		c   *client
		raw json.RawMessage
		err error
	}
	evShardReply struct {
		shard int
		raw   json.RawMessage
		err   error
		wc    *wire.Conn
	}
	evStockUpdate struct{ update market.StockUpdate }
	evSimDown     struct{}
	evLeaderboard struct{}
)

// Broker routes client requests across the replicator pool.
type Broker struct {
	project   string
	numShards int
	cat       *catalog.Client

	ln     net.Listener
	events chan interface{}

	shards       []*shardState
	busy         map[*client]struct{}
	pendingLimit int

	sim    *wire.Conn
	latest market.StockUpdate

	leaderboard []lbEntry
	handled     uint64
	rng         *rand.Rand
}

// New connects the broker to the simulator and every replicator shard,
// and blocks until the first live price tick arrives so orders are
// never priced off nothing.
func New(cfg *config.Config, project string, numShards int) (*Broker, error) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		return nil, fmt.Errorf("broker listen: %w", err)
	}

	b := &Broker{
		project:      project,
		numShards:    numShards,
		cat:          catalog.NewClient(cfg.CatalogHost),
		ln:           ln,
		events:       make(chan interface{}, 256),
		busy:         make(map[*client]struct{}),
		pendingLimit: cfg.PendingLimit,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	zaplogger.Info("broker listening", zaplogger.Fields{"port": b.Port()})

	b.connectSimulator()
	for i := 0; i < numShards; i++ {
		conn, err := b.cat.Connect(project, catalog.ChainType(i), market.Hello{Type: market.HelloBroker}, 0)
		if err != nil {
			return nil, err
		}
		b.shards = append(b.shards, &shardState{wc: wire.NewConn(conn)})
	}
	return b, nil
}

// Port returns the bound listen port, for catalog registration.
func (b *Broker) Port() int { return b.ln.Addr().(*net.TCPAddr).Port }

// connectSimulator (re)establishes the live price channel and waits for
// one complete update.
func (b *Broker) connectSimulator() {
	for {
		conn, err := b.cat.Connect(b.project, catalog.TypeSimulator, market.Hello{Type: market.HelloBroker}, 0)
		if err != nil {
			continue
		}
		wc := wire.NewConn(conn)
		var update market.StockUpdate
		if err := wc.DecodeInto(&update); err != nil {
			wc.Close()
			continue
		}
		b.sim = wc
		b.latest = update
		zaplogger.Info("connected to simulator", zaplogger.Fields{"addr": conn.RemoteAddr().String()})
		return
	}
}

// TriggerLeaderboard queues a leaderboard rebuild into the event loop.
// The periodic cron calls this so timer work serializes with the loop.
func (b *Broker) TriggerLeaderboard() {
	b.events <- evLeaderboard{}
}

// Run serves until the context is cancelled.
func (b *Broker) Run(ctx context.Context) error {
	go b.acceptLoop(ctx)
	go b.readSimulator(b.sim)

	retry := time.NewTicker(time.Second)
	defer retry.Stop()

	var batch []interface{}
	for {
		batch = batch[:0]
		select {
		case <-ctx.Done():
			b.ln.Close()
			return nil
		case <-retry.C:
			b.retryPending()
			continue
		case ev := <-b.events:
			batch = append(batch, ev)
		}
	drain:
		for {
			select {
			case ev := <-b.events:
				batch = append(batch, ev)
			default:
				break drain
			}
		}
		// service the batch in uniformly random order: random choice,
		// not round-robin, is what keeps old always-ready clients from
		// starving new ones
		for len(batch) > 0 {
			i := b.rng.Intn(len(batch))
			ev := batch[i]
			batch[i] = batch[len(batch)-1]
			batch = batch[:len(batch)-1]
			b.handle(ev)
		}
		b.retryPending()
	}
}

func (b *Broker) handle(ev interface{}) {
	switch ev := ev.(type) {
	case evNewClient:
		c := &client{wc: wire.NewConn(ev.conn), resume: make(chan struct{}, 1)}
		go b.readClient(c)
	case evClientGone:
		ev.c.wc.Close()
		b.purgeClient(ev.c)
	case evClientRequest:
		b.handleRequest(ev)
	case evShardReply:
		b.finalize(ev)
	case evStockUpdate:
		b.latest = ev.update
	case evSimDown:
		b.sim.Close()
		b.connectSimulator()
		go b.readSimulator(b.sim)
	case evLeaderboard:
		b.rebuildLeaderboard()
	}
}

// handleRequest routes one decoded client request.
func (b *Broker) handleRequest(ev evClientRequest) {
	c := ev.c
	if ev.err != nil {
		// malformed frame: report it and keep the connection open
		b.reply(c, market.Fail(ev.err.Error()))
		return
	}

	var probe struct {
		Action   string `json:"action"`
		Username string `json:"username"`
	}
	if err := json.Unmarshal(ev.raw, &probe); err != nil {
		b.reply(c, market.Fail("Unintelligable request"))
		return
	}
	if probe.Username == "" {
		b.reply(c, market.Fail("Username required to perform an action"))
		return
	}
	if probe.Action == "leaderboard" {
		b.reply(c, b.leaderboardResponse())
		return
	}

	b.dispatch(ShardFor(probe.Username, b.numShards), ev.raw, probe.Username, c)
}

// reply sends a response to the client and releases its reader.
func (b *Broker) reply(c *client, resp market.Response) {
	c.wc.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.wc.Send(resp); err != nil {
		zaplogger.Debug("client reply failed", zaplogger.Fields{"error": err.Error()})
	}
	c.wc.SetWriteDeadline(time.Time{})
	c.release()
}

// replyRaw forwards an already-encoded payload to the client.
func (b *Broker) replyRaw(c *client, raw []byte) {
	c.wc.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := wire.SendRaw(c.wc, raw); err != nil {
		zaplogger.Debug("client reply failed", zaplogger.Fields{"error": err.Error()})
	}
	c.wc.SetWriteDeadline(time.Time{})
	c.release()
}

func (b *Broker) acceptLoop(ctx context.Context) {
	for {
		conn, err := b.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			zaplogger.Warn("broker accept failed", zaplogger.Fields{"error": err.Error()})
			return
		}
		b.events <- evNewClient{conn: conn}
	}
}

// readClient delivers one request at a time into the loop and pauses
// until the loop releases it, which enforces submission-order handling
// per client.
func (b *Broker) readClient(c *client) {
	for {
		raw, err := c.wc.Decode()
		if err != nil && !wire.IsFraming(err) {
			b.events <- evClientGone{c: c, err: err}
			return
		}
		b.events <- evClientRequest{c: c, raw: raw, err: err}
		<-c.resume
	}
}

// readSimulator feeds live ticks into the loop until the stream breaks.
func (b *Broker) readSimulator(wc *wire.Conn) {
	for {
		var update market.StockUpdate
		if err := wc.DecodeInto(&update); err != nil {
			b.events <- evSimDown{}
			return
		}
		b.events <- evStockUpdate{update: update}
	}
}
