package endpoint

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nsvirk/stockmarket/internal/catalog"
	"github.com/nsvirk/stockmarket/internal/market"
	"github.com/nsvirk/stockmarket/internal/wire"
)

// testCluster scripts a catalog, a broker and a simulator so the
// endpoint can run its full connect path against real sockets.
type testCluster struct {
	catalogHost string
	brokerLn    net.Listener
	simLn       net.Listener
}

func startCluster(t *testing.T, serve func(req market.Request) market.Response) *testCluster {
	t.Helper()

	brokerLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	simLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	entries := []catalog.Entry{
		{
			Type: catalog.TypeBroker, Name: "127.0.0.1", Project: "proj",
			Port:          brokerLn.Addr().(*net.TCPAddr).Port,
			LastHeardFrom: time.Now().Unix(),
		},
		{
			Type: catalog.TypeSimulator, Name: "127.0.0.1", Project: "proj",
			Port:          simLn.Addr().(*net.TCPAddr).Port,
			LastHeardFrom: time.Now().Unix(),
		},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/query.json", r.URL.Path)
		json.NewEncoder(w).Encode(entries)
	}))

	// The broker side answers every framed request with serve's reply.
	go func() {
		for {
			conn, err := brokerLn.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				wc := wire.NewConn(conn)
				for {
					var req market.Request
					if err := wc.DecodeInto(&req); err != nil {
						return
					}
					if err := wc.Send(serve(req)); err != nil {
						return
					}
				}
			}(conn)
		}
	}()

	// The simulator side reads the subscribe hello and pushes one price
	// datagram at the advertised UDP port.
	go func() {
		for {
			conn, err := simLn.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				var hello market.Hello
				if err := wire.NewConn(conn).DecodeInto(&hello); err != nil || hello.Port == 0 {
					return
				}
				update := market.StockUpdate{Time: 99, Prices: map[string]float64{"TSLA": 111.5}}
				payload, err := json.Marshal(update)
				if err != nil {
					return
				}
				dst, err := net.Dial("udp", net.JoinHostPort("127.0.0.1", strconv.Itoa(hello.Port)))
				if err != nil {
					return
				}
				dst.Write(payload)
				dst.Close()
			}(conn)
		}
	}()

	t.Cleanup(func() {
		srv.Close()
		brokerLn.Close()
		simLn.Close()
	})
	return &testCluster{
		catalogHost: strings.TrimPrefix(srv.URL, "http://"),
		brokerLn:    brokerLn,
		simLn:       simLn,
	}
}

func TestEndpointRoundTrip(t *testing.T) {
	cluster := startCluster(t, func(req market.Request) market.Response {
		switch req.Action {
		case "register":
			return market.OK(nil)
		case "buy":
			amount, err := market.ParseAmount(req.Amount)
			if err != nil || req.Ticker != "TSLA" {
				return market.Fail("bad order")
			}
			if amount != 3 {
				return market.Fail("bad amount")
			}
			return market.OK("Purchased 3 shares of TSLA at 111.5")
		case "balance":
			return market.OK(map[string]interface{}{"Cash": 100000.0})
		case "leaderboard":
			return market.OK("TOP 10\n---------------\n")
		default:
			return market.Fail(req.Action + " is an invalid action.")
		}
	})

	ep, err := New(cluster.catalogHost, "proj", "alice", "pw")
	require.NoError(t, err)
	defer ep.Close()

	_, err = ep.Register(false)
	require.NoError(t, err)

	resp := ep.Buy("TSLA", 3)
	require.True(t, resp.Success)
	assert.Equal(t, "Purchased 3 shares of TSLA at 111.5", resp.Value)

	balance, err := ep.GetBalance()
	require.NoError(t, err)
	assert.Contains(t, balance.(map[string]interface{}), "Cash")

	board, err := ep.GetLeaderboard()
	require.NoError(t, err)
	assert.Contains(t, board.(string), "TOP 10")

	// The simulator's datagram lands via the background receiver.
	require.Eventually(t, func() bool {
		return ep.GetStockUpdate().Time == 99
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 111.5, ep.GetStockUpdate().Prices["TSLA"])
}

func TestEndpointRegisterConflict(t *testing.T) {
	cluster := startCluster(t, func(req market.Request) market.Response {
		return market.Fail("Username alice is already in use.")
	})

	ep, err := New(cluster.catalogHost, "proj", "alice", "pw")
	require.NoError(t, err)
	defer ep.Close()

	// Strict registration surfaces the conflict.
	_, err = ep.Register(false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already in use")

	// Tolerant registration treats it as already done.
	_, err = ep.Register(true)
	assert.NoError(t, err)
}
