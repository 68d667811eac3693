// Package endpoint is the client library for the trading platform: it
// connects to a broker through the catalog, subscribes to the delayed
// price stream, and exposes the trading RPCs.
package endpoint

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nsvirk/stockmarket/internal/catalog"
	"github.com/nsvirk/stockmarket/internal/market"
	"github.com/nsvirk/stockmarket/internal/wire"
	"github.com/nsvirk/stockmarket/pkg/utils/zaplogger"
)

// requestTimeout bounds each broker round trip.
const requestTimeout = 5 * time.Second

// maxBackoff caps the reconnect wait.
const maxBackoff = 60 * time.Second

// Endpoint is one client's connection to the platform.
type Endpoint struct {
	project  string
	username string
	password string
	cat      *catalog.Client

	mu     sync.Mutex // serializes broker RPCs
	broker *wire.Conn

	udp     *net.UDPConn
	udpHost string
	udpPort int
	lastSub atomic.Int64

	priceMu sync.RWMutex
	recent  market.StockUpdate

	done chan struct{}
}

// New connects to the broker, subscribes to the simulator, and starts
// the background price receiver.
func New(catalogHost, project, username, password string) (*Endpoint, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("endpoint: %w", err)
	}

	udp, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("endpoint: %w", err)
	}

	e := &Endpoint{
		project:  project,
		username: username,
		password: password,
		cat:      catalog.NewClient(catalogHost),
		udp:      udp,
		udpHost:  hostname,
		udpPort:  udp.LocalAddr().(*net.UDPAddr).Port,
		done:     make(chan struct{}),
	}

	if err := e.connectBroker(); err != nil {
		udp.Close()
		return nil, err
	}
	e.subscribe(false)
	go e.receiveLoop()
	return e, nil
}

// Close tears down the endpoint's sockets.
func (e *Endpoint) Close() {
	close(e.done)
	e.udp.Close()
	e.mu.Lock()
	if e.broker != nil {
		e.broker.Close()
	}
	e.mu.Unlock()
}

func (e *Endpoint) connectBroker() error {
	conn, err := e.cat.Connect(e.project, catalog.TypeBroker, nil, 0)
	if err != nil {
		return err
	}
	e.broker = wire.NewConn(conn)
	return nil
}

// subscribe registers this endpoint's UDP socket with the simulator via
// a one-shot framed TCP hello.
func (e *Endpoint) subscribe(resub bool) {
	hello := market.Hello{Hostname: e.udpHost, Port: e.udpPort, Resub: resub}
	conn, err := e.cat.Connect(e.project, catalog.TypeSimulator, hello, 0)
	if err != nil {
		return
	}
	conn.Close()
	e.lastSub.Store(time.Now().UnixNano())
}

// receiveLoop stores the newest delayed price datagram and keeps the
// subscription alive. The refresh threshold is randomized per check so
// a fleet of clients does not resubscribe in a herd.
func (e *Endpoint) receiveLoop() {
	buf := make([]byte, 64*1024)
	for {
		select {
		case <-e.done:
			return
		default:
		}

		threshold := float64(market.SubscribeTimeout) * (0.8 + rand.Float64()*0.1)
		if time.Now().UnixNano()-e.lastSub.Load() > int64(threshold) {
			e.subscribe(true)
		}

		e.udp.SetReadDeadline(time.Now().Add(time.Second))
		n, err := e.udp.Read(buf)
		if err != nil {
			continue
		}
		var update market.StockUpdate
		if err := json.Unmarshal(buf[:n], &update); err != nil {
			zaplogger.Debug("ignoring malformed price datagram", zaplogger.Fields{"error": err.Error()})
			continue
		}
		e.priceMu.Lock()
		e.recent = update
		e.priceMu.Unlock()
	}
}

// call performs one broker RPC, reconnecting with exponential backoff
// until a complete reply arrives.
func (e *Endpoint) call(req market.Request) market.Response {
	e.mu.Lock()
	defer e.mu.Unlock()

	backoff := time.Second
	for {
		if err := e.broker.Send(req); err == nil {
			var resp market.Response
			e.broker.SetReadDeadline(time.Now().Add(requestTimeout))
			err = e.broker.DecodeInto(&resp)
			e.broker.SetReadDeadline(time.Time{})
			if err == nil {
				return resp
			}
		}

		zaplogger.Warn("broker request failed, reconnecting", zaplogger.Fields{"retry": backoff.String()})
		time.Sleep(backoff)
		if backoff *= 2; backoff > maxBackoff {
			backoff = maxBackoff
		}
		e.broker.Close()
		e.connectBroker()
	}
}

func (e *Endpoint) request(action string) market.Request {
	return market.Request{Action: action, Username: e.username, Password: e.password}
}

// Register creates this endpoint's account. With registeredOK set an
// already-taken username is not an error.
func (e *Endpoint) Register(registeredOK bool) (interface{}, error) {
	resp := e.call(e.request("register"))
	if !resp.Success && !registeredOK {
		return nil, fmt.Errorf("register: %v", resp.Value)
	}
	return resp.Value, nil
}

// Buy submits a buy order and returns the broker's reply.
func (e *Endpoint) Buy(ticker string, amount int64) market.Response {
	req := e.request("buy")
	req.Ticker = ticker
	req.Amount = json.RawMessage(strconv.FormatInt(amount, 10))
	return e.call(req)
}

// Sell submits a sell order and returns the broker's reply.
func (e *Endpoint) Sell(ticker string, amount int64) market.Response {
	req := e.request("sell")
	req.Ticker = ticker
	req.Amount = json.RawMessage(strconv.FormatInt(amount, 10))
	return e.call(req)
}

// GetBalance returns the account's balance payload.
func (e *Endpoint) GetBalance() (interface{}, error) {
	resp := e.call(e.request("balance"))
	if !resp.Success {
		return nil, fmt.Errorf("balance: %v", resp.Value)
	}
	return resp.Value, nil
}

// GetLeaderboard returns the broker's top-10 text block.
func (e *Endpoint) GetLeaderboard() (interface{}, error) {
	resp := e.call(e.request("leaderboard"))
	if !resp.Success {
		return nil, fmt.Errorf("leaderboard: %v", resp.Value)
	}
	return resp.Value, nil
}

// GetStockUpdate returns the most recent delayed price snapshot
// received from the simulator.
func (e *Endpoint) GetStockUpdate() market.StockUpdate {
	e.priceMu.RLock()
	defer e.priceMu.RUnlock()
	return e.recent
}
