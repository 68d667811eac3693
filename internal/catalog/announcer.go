package catalog

import (
	"encoding/json"
	"fmt"
	"net"

	"github.com/robfig/cron/v3"

	"github.com/nsvirk/stockmarket/pkg/utils/zaplogger"
)

// Announcement is the UDP registration datagram sent to the catalog.
// Unlike stream traffic it is a bare JSON object, not a framed message.
type Announcement struct {
	Type    string `json:"type"`
	Owner   string `json:"owner"`
	Port    int    `json:"port"`
	Project string `json:"project"`
}

// Announcer keeps one service registered with the catalog.
type Announcer struct {
	conn net.Conn
	msg  Announcement
}

// NewAnnouncer opens the UDP socket towards the catalog host.
func NewAnnouncer(catalogHost string, msg Announcement) (*Announcer, error) {
	conn, err := net.Dial("udp", catalogHost)
	if err != nil {
		return nil, fmt.Errorf("catalog announcer: %w", err)
	}
	return &Announcer{conn: conn, msg: msg}, nil
}

// Announce sends one registration datagram.
func (a *Announcer) Announce() {
	payload, err := json.Marshal(a.msg)
	if err != nil {
		zaplogger.Error("unable to marshal catalog announcement", zaplogger.Fields{"error": err.Error()})
		return
	}
	if _, err := a.conn.Write(payload); err != nil {
		zaplogger.Warn("unable to update name server", zaplogger.Fields{"error": err.Error()})
		return
	}
	zaplogger.Debug("name server updated", zaplogger.Fields{"type": a.msg.Type, "port": a.msg.Port})
}

// Start announces immediately and then every minute via the daemon's cron.
func (a *Announcer) Start(c *cron.Cron) error {
	a.Announce()
	_, err := c.AddFunc("@every 60s", a.Announce)
	return err
}

// Close releases the UDP socket.
func (a *Announcer) Close() error { return a.conn.Close() }
