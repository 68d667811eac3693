package replicator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/nsvirk/stockmarket/internal/market"
	"github.com/nsvirk/stockmarket/internal/telemetry"
	"github.com/nsvirk/stockmarket/internal/wire"
	"github.com/nsvirk/stockmarket/pkg/utils/zaplogger"
)

// portRangeStart is the first port tried when binding; replicators bind
// inside a fixed window to play along with host firewalls.
const (
	portRangeStart = 9123
	portRangeSize  = 100
)

// helloTimeout bounds how long a fresh connection may take to identify
// itself.
const helloTimeout = 60 * time.Second

// Server accepts the broker's upstream connection and drives requests
// through the store one at a time.
type Server struct {
	store *Store
	shard int

	ln   net.Listener
	port int

	mu       sync.Mutex
	upstream net.Conn
	done     chan struct{}
}

// NewServer binds a listener for the shard within the replicator port
// range.
func NewServer(store *Store, shard int) (*Server, error) {
	s := &Server{store: store, shard: shard}
	for i := 0; i < portRangeSize; i++ {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", portRangeStart+i))
		if err != nil {
			continue
		}
		s.ln = ln
		s.port = ln.Addr().(*net.TCPAddr).Port
		zaplogger.Info("replicator listening", zaplogger.Fields{"shard": shard, "port": s.port})
		return s, nil
	}
	return nil, fmt.Errorf("no open ports in %d-%d", portRangeStart, portRangeStart+portRangeSize-1)
}

// Port returns the bound listen port, for catalog registration.
func (s *Server) Port() int { return s.port }

// Run accepts connections until the context is cancelled. Only a broker
// hello promotes a connection to the upstream; anything else is closed.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("replicator accept: %w", err)
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	wc := wire.NewConn(conn)
	conn.SetReadDeadline(time.Now().Add(helloTimeout))
	var hello market.Hello
	if err := wc.DecodeInto(&hello); err != nil || hello.Type != market.HelloBroker {
		conn.Close()
		return
	}
	conn.SetReadDeadline(time.Time{})

	s.mu.Lock()
	prev := s.upstream
	prevDone := s.done
	done := make(chan struct{})
	s.upstream = conn
	s.done = done
	s.mu.Unlock()

	// The store is single-owner: close the previous upstream and wait
	// for its handler to fully return before this connection gets to
	// drive requests. The old handler may still drain frames its reader
	// had buffered; none of that happens concurrently with us.
	if prev != nil {
		prev.Close()
	}
	if prevDone != nil {
		<-prevDone
	}
	zaplogger.Info("broker connected", zaplogger.Fields{"shard": s.shard, "addr": conn.RemoteAddr().String()})

	s.serveUpstream(wc, done)
}

// serveUpstream is the single-request-at-a-time loop: read one framed
// request, apply it, reply. A framing error or EOF abandons the
// connection and the server goes back to waiting for a fresh broker.
func (s *Server) serveUpstream(wc *wire.Conn, done chan struct{}) {
	defer func() {
		s.mu.Lock()
		if s.upstream == wc.Conn {
			s.upstream = nil
		}
		s.mu.Unlock()
		wc.Close()
		close(done)
	}()

	for {
		raw, err := wc.Decode()
		if err != nil {
			if err != io.EOF {
				zaplogger.Warn("upstream read failed", zaplogger.Fields{"shard": s.shard, "error": err.Error()})
			}
			return
		}

		var req market.Request
		if err := json.Unmarshal(raw, &req); err != nil {
			wc.Send(market.Fail("Unintelligable request"))
			continue
		}
		if req.LatestStockInfo != nil {
			s.store.SetLatest(req.LatestStockInfo.Prices)
		}

		resp, err := s.store.Perform(req)
		if err != nil {
			// durability failure: exit so the supervisor restarts us
			// into replay, which is crash-consistent by construction
			zaplogger.Fatal("wal write failed", zaplogger.Fields{"shard": s.shard, "error": err.Error()})
		}
		telemetry.ReplicatorRequests.Inc()
		if err := s.store.MaybeCheckpoint(); err != nil {
			zaplogger.Fatal("checkpoint failed", zaplogger.Fields{"shard": s.shard, "error": err.Error()})
		}

		if err := wc.Send(resp); err != nil {
			zaplogger.Warn("upstream reply failed", zaplogger.Fields{"shard": s.shard, "error": err.Error()})
			return
		}
	}
}
