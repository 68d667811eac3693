package broker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nsvirk/stockmarket/internal/catalog"
	"github.com/nsvirk/stockmarket/internal/market"
	"github.com/nsvirk/stockmarket/internal/telemetry"
	"github.com/nsvirk/stockmarket/internal/wire"
	"github.com/nsvirk/stockmarket/pkg/utils/zaplogger"
)

// writeTimeout bounds sends towards replicators and clients.
const writeTimeout = 5 * time.Second

// pendingReq is one queued client request waiting for its shard.
type pendingReq struct {
	raw      []byte
	username string
	c        *client
}

// shardState is the broker's view of one replicator shard.
type shardState struct {
	wc       *wire.Conn
	inFlight *client
	pending  []pendingReq
}

// hasPending reports whether the same request from the same connection
// is already queued, so duplicates are suppressed.
func (st *shardState) hasPending(raw []byte, c *client) bool {
	for _, p := range st.pending {
		if p.c == c && bytes.Equal(p.raw, raw) {
			return true
		}
	}
	return false
}

// inject adds the broker's live price snapshot to the request so the
// replicator prices the order at the broker's current view.
func (b *Broker) inject(raw []byte) ([]byte, error) {
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	m["latest_stock_info"] = b.latest
	return json.Marshal(m)
}

// dispatch attempts to start a request on its shard, queueing it when
// the shard is occupied or unreachable. The client's reader stays
// paused until the reply (or an immediate rejection) comes back.
func (b *Broker) dispatch(shard int, raw []byte, username string, c *client) {
	st := b.shards[shard]

	if st.inFlight != nil {
		b.enqueue(st, shard, raw, username, c)
		return
	}

	payload, err := b.inject(raw)
	if err != nil {
		b.reply(c, market.Fail("Unintelligable request"))
		return
	}

	if st.wc == nil || b.sendToShard(st, payload) != nil {
		// one reconnect attempt, then queue regardless of outcome
		b.reconnectShard(shard)
		b.enqueue(st, shard, raw, username, c)
		return
	}

	st.inFlight = c
	b.busy[c] = struct{}{}
	go b.readShardReply(shard, st.wc)
}

// enqueue adds the request to the shard's bounded pending queue. A full
// queue rejects the request outright so a slow shard cannot grow the
// broker without bound.
func (b *Broker) enqueue(st *shardState, shard int, raw []byte, username string, c *client) {
	if st.hasPending(raw, c) {
		return
	}
	if len(st.pending) >= b.pendingLimit {
		telemetry.BrokerBusyRejects.Inc()
		b.reply(c, market.Fail("Shard is busy, try again later"))
		return
	}
	st.pending = append(st.pending, pendingReq{raw: raw, username: username, c: c})
	telemetry.BrokerPending.WithLabelValues(fmt.Sprint(shard)).Set(float64(len(st.pending)))
}

func (b *Broker) sendToShard(st *shardState, payload []byte) error {
	st.wc.SetWriteDeadline(time.Now().Add(writeTimeout))
	defer st.wc.SetWriteDeadline(time.Time{})
	return wire.SendRaw(st.wc, payload)
}

// reconnectShard closes the shard connection and tries exactly once to
// re-establish it through discovery.
func (b *Broker) reconnectShard(shard int) {
	st := b.shards[shard]
	if st.wc != nil {
		st.wc.Close()
		st.wc = nil
	}
	zaplogger.Warn("shard connection lost, attempting reconnect", zaplogger.Fields{"shard": shard})
	conn, err := b.cat.Connect(b.project, catalog.ChainType(shard), market.Hello{Type: market.HelloBroker}, 1)
	if err != nil {
		return
	}
	st.wc = wire.NewConn(conn)
}

// readShardReply waits for the single outstanding reply on a shard
// connection and hands it to the event loop.
func (b *Broker) readShardReply(shard int, wc *wire.Conn) {
	raw, err := wc.Decode()
	b.events <- evShardReply{shard: shard, raw: raw, err: err, wc: wc}
}

// finalize forwards a shard reply to the waiting client, frees the
// shard, and drains up to one queued request for it.
func (b *Broker) finalize(ev evShardReply) {
	st := b.shards[ev.shard]
	if st.wc != ev.wc {
		// reply from a connection we already abandoned
		return
	}

	raw := ev.raw
	if ev.err != nil {
		// an incomplete reply means the shard crashed mid-request
		raw, _ = json.Marshal(market.Fail("The database server has crashed"))
		st.wc.Close()
		st.wc = nil
	}

	if c := st.inFlight; c != nil {
		st.inFlight = nil
		delete(b.busy, c)
		b.replyRaw(c, raw)
	}
	b.handled++
	telemetry.BrokerRequests.Inc()
	if b.handled%1000 == 0 {
		zaplogger.Info("requests handled", zaplogger.Fields{"count": b.handled})
	}

	b.drainOne(ev.shard)
}

// drainOne starts the first queued request that still maps to this
// shard.
func (b *Broker) drainOne(shard int) {
	st := b.shards[shard]
	for i, p := range st.pending {
		if ShardFor(p.username, b.numShards) != shard {
			continue
		}
		st.pending = append(st.pending[:i], st.pending[i+1:]...)
		telemetry.BrokerPending.WithLabelValues(fmt.Sprint(shard)).Set(float64(len(st.pending)))
		b.dispatch(shard, p.raw, p.username, p.c)
		return
	}
}

// retryPending kicks idle shards with queued work, which recovers
// requests that were queued while a shard was down.
func (b *Broker) retryPending() {
	for shard, st := range b.shards {
		if st.inFlight == nil && len(st.pending) > 0 {
			b.drainOne(shard)
		}
	}
}

// purgeClient drops a closed client's queued requests and busy mark.
// If it had a request in flight the shard reply is still consumed, the
// forward just goes nowhere.
func (b *Broker) purgeClient(c *client) {
	delete(b.busy, c)
	for shard, st := range b.shards {
		kept := st.pending[:0]
		for _, p := range st.pending {
			if p.c != c {
				kept = append(kept, p)
			}
		}
		if len(kept) != len(st.pending) {
			st.pending = kept
			telemetry.BrokerPending.WithLabelValues(fmt.Sprint(shard)).Set(float64(len(st.pending)))
		}
		if st.inFlight == c {
			// leave inFlight set; finalize clears it when the reply lands
			continue
		}
	}
}
