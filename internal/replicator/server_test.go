package replicator

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nsvirk/stockmarket/internal/market"
	"github.com/nsvirk/stockmarket/internal/wire"
)

func TestHandleConnRejectsNonBroker(t *testing.T) {
	s := &Server{store: newTestStore(t)}

	server, client := net.Pipe()
	done := make(chan struct{})
	go func() {
		s.handleConn(server)
		close(done)
	}()

	require.NoError(t, wire.Send(client, market.Hello{Hostname: "somehost", Port: 1234}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("non-broker connection was not dropped")
	}
	client.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	_, err := client.Read(buf)
	assert.Error(t, err, "connection should be closed")
}

// TestBrokerReplacementHandsOff floods the shard with pipelined
// requests from one broker while a replacement broker connects and does
// the same. The store is single-owner, so the handlers must run one
// after the other; run with the race detector to verify no overlap.
func TestBrokerReplacementHandsOff(t *testing.T) {
	s := &Server{store: newTestStore(t)}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go s.handleConn(conn)
		}
	}()

	dialBroker := func() *wire.Conn {
		conn, err := net.Dial("tcp", ln.Addr().String())
		require.NoError(t, err)
		wc := wire.NewConn(conn)
		require.NoError(t, wc.Send(market.Hello{Type: market.HelloBroker}))
		return wc
	}
	registerReq := func(username string) market.Request {
		return market.Request{
			Action: "register", Username: username, Password: "pw",
			LatestStockInfo: &market.StockUpdate{Time: 1, Prices: map[string]float64{"TSLA": 10}},
		}
	}

	// Pipeline a burst on the first broker without reading replies, so
	// its handler still holds buffered frames when it is replaced.
	first := dialBroker()
	defer first.Close()
	for i := 0; i < 50; i++ {
		require.NoError(t, first.Send(registerReq(fmt.Sprintf("old%02d", i))))
	}

	second := dialBroker()
	defer second.Close()
	second.SetReadDeadline(time.Now().Add(10 * time.Second))
	for i := 0; i < 50; i++ {
		require.NoError(t, second.Send(registerReq(fmt.Sprintf("new%02d", i))))
		var resp market.Response
		require.NoError(t, second.DecodeInto(&resp))
		assert.True(t, resp.Success)
	}

	// Every request the replacement broker saw acknowledged committed,
	// plus whatever the first handler applied before the hand-off.
	assert.GreaterOrEqual(t, s.store.Users(), 50)
}

func TestServeUpstreamRequestReply(t *testing.T) {
	s := &Server{store: newTestStore(t)}

	server, client := net.Pipe()
	go s.handleConn(server)
	defer client.Close()

	wc := wire.NewConn(client)
	require.NoError(t, wc.Send(market.Hello{Type: market.HelloBroker}))

	require.NoError(t, wc.Send(market.Request{
		Action: "register", Username: "alice", Password: "pw",
		LatestStockInfo: &market.StockUpdate{Time: 1, Prices: map[string]float64{"TSLA": 10}},
	}))

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp market.Response
	require.NoError(t, wc.DecodeInto(&resp))
	assert.True(t, resp.Success)

	// A request that is valid JSON but not an object gets a reply and
	// the connection stays usable.
	require.NoError(t, wire.SendRaw(client, []byte(`[1,2,3]`)))
	require.NoError(t, wc.DecodeInto(&resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "Unintelligable request", resp.Value)

	require.NoError(t, wc.Send(market.Request{Action: "balance", Username: "alice", Password: "pw"}))
	require.NoError(t, wc.DecodeInto(&resp))
	assert.True(t, resp.Success)
}
