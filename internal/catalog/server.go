package catalog

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/nsvirk/stockmarket/pkg/utils/zaplogger"
)

// entryTTL is how long a registration stays visible without a refresh.
const entryTTL = 15 * time.Minute

// Server is a local stand-in for the shared catalog service: it ingests
// UDP registration datagrams and serves the registered entries as JSON
// over HTTP at /query.json.
type Server struct {
	mu      sync.Mutex
	entries map[string]Entry

	udp *net.UDPConn
	e   *echo.Echo
}

// NewServer creates an empty catalog server.
func NewServer() *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	s := &Server{entries: make(map[string]Entry), e: e}
	e.GET("/query.json", s.handleQuery)
	return s
}

// handleQuery returns all entries heard from within the TTL.
func (s *Server) handleQuery(c echo.Context) error {
	cutoff := time.Now().Add(-entryTTL).Unix()
	s.mu.Lock()
	live := make([]Entry, 0, len(s.entries))
	for key, entry := range s.entries {
		if entry.LastHeardFrom < cutoff {
			delete(s.entries, key)
			continue
		}
		live = append(live, entry)
	}
	s.mu.Unlock()
	return c.JSON(http.StatusOK, live)
}

// ingest records one registration datagram.
func (s *Server) ingest(payload []byte, from *net.UDPAddr) {
	var msg Announcement
	if err := json.Unmarshal(payload, &msg); err != nil {
		zaplogger.Debug("ignoring malformed registration datagram", zaplogger.Fields{"error": err.Error()})
		return
	}
	if msg.Type == "" || msg.Project == "" || msg.Port == 0 {
		return
	}
	entry := Entry{
		Type:          msg.Type,
		Name:          from.IP.String(),
		Port:          msg.Port,
		Project:       msg.Project,
		Owner:         msg.Owner,
		LastHeardFrom: time.Now().Unix(),
	}
	key := entry.Project + "/" + entry.Type + "/" + entry.Owner + "/" + entry.Addr()
	s.mu.Lock()
	s.entries[key] = entry
	s.mu.Unlock()
	zaplogger.Debug("registration received", zaplogger.Fields{
		"project": entry.Project,
		"type":    entry.Type,
		"addr":    entry.Addr(),
	})
}

// Run serves registrations on udpAddr and queries on httpAddr until the
// context is cancelled.
func (s *Server) Run(ctx context.Context, udpAddr, httpAddr string) error {
	addr, err := net.ResolveUDPAddr("udp", udpAddr)
	if err != nil {
		return err
	}
	s.udp, err = net.ListenUDP("udp", addr)
	if err != nil {
		return err
	}

	go func() {
		buf := make([]byte, 64*1024)
		for {
			n, from, err := s.udp.ReadFromUDP(buf)
			if err != nil {
				return
			}
			s.ingest(buf[:n], from)
		}
	}()

	go func() {
		<-ctx.Done()
		s.udp.Close()
		s.e.Shutdown(context.Background())
	}()

	zaplogger.Info("catalog server started", zaplogger.Fields{"udp": udpAddr, "http": httpAddr})
	if err := s.e.Start(httpAddr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
