// Package catalog talks to the name service every component registers
// with and discovers its peers through. The production catalog is an
// external HTTP endpoint that accepts UDP registration datagrams; the
// Server in this package implements the same contract for local runs.
package catalog

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/nsvirk/stockmarket/internal/wire"
	"github.com/nsvirk/stockmarket/pkg/utils/zaplogger"
)

// Service types registered in the catalog.
const (
	TypeSimulator = "stockmarketsim"
	TypeBroker    = "stockmarketbroker"
)

// ChainType is the service type of replicator shard n.
func ChainType(n int) string { return fmt.Sprintf("chain-%d", n) }

// DialTimeout bounds every peer connect attempt.
const DialTimeout = 5 * time.Second

// maxBackoff caps the doubling retry wait.
const maxBackoff = 60 * time.Second

// Entry is one catalog record.
type Entry struct {
	Type          string `json:"type"`
	Name          string `json:"name"`
	Port          int    `json:"port"`
	Project       string `json:"project"`
	Owner         string `json:"owner"`
	LastHeardFrom int64  `json:"lastheardfrom,omitempty"`
}

// Addr is the host:port the entry advertises.
func (e Entry) Addr() string { return net.JoinHostPort(e.Name, fmt.Sprint(e.Port)) }

// Client queries the catalog.
type Client struct {
	Host string
	HTTP *http.Client
}

// NewClient returns a client for the catalog at host (host:port).
func NewClient(host string) *Client {
	return &Client{Host: host, HTTP: &http.Client{Timeout: DialTimeout}}
}

// fetch performs one catalog query.
func (c *Client) fetch() ([]Entry, error) {
	resp, err := c.HTTP.Get("http://" + c.Host + "/query.json")
	if err != nil {
		return nil, fmt.Errorf("catalog query: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("catalog query: %w", err)
	}
	var entries []Entry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("catalog query: %w", err)
	}
	return entries, nil
}

// Lookup returns every catalog entry for the given project and service
// type. It retries with doubling backoff until at least one match is
// found, so it never returns an empty list.
func (c *Client) Lookup(project, serviceType string) []Entry {
	backoff := time.Second
	for {
		entries, err := c.fetch()
		if err != nil {
			zaplogger.Warn("unable to contact catalog server", zaplogger.Fields{
				"error": err.Error(),
				"retry": backoff.String(),
			})
		} else {
			var matches []Entry
			for _, e := range entries {
				if e.Project == project && e.Type == serviceType {
					matches = append(matches, e)
				}
			}
			if len(matches) > 0 {
				return matches
			}
			zaplogger.Warn("no catalog entries for service", zaplogger.Fields{
				"project": project,
				"type":    serviceType,
				"retry":   backoff.String(),
			})
		}
		time.Sleep(backoff)
		if backoff *= 2; backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// Connect looks the service up and dials each candidate in order,
// sending the framed hello if one is given. maxAttempts bounds the
// number of lookup rounds; zero means retry forever.
func (c *Client) Connect(project, serviceType string, hello interface{}, maxAttempts int) (net.Conn, error) {
	backoff := time.Second
	for attempt := 0; maxAttempts <= 0 || attempt < maxAttempts; attempt++ {
		for _, entry := range c.Lookup(project, serviceType) {
			conn, err := net.DialTimeout("tcp", entry.Addr(), DialTimeout)
			if err != nil {
				continue
			}
			if hello != nil {
				if err := wire.Send(conn, hello); err != nil {
					conn.Close()
					continue
				}
			}
			zaplogger.Debug("connected to service", zaplogger.Fields{
				"type": serviceType,
				"addr": entry.Addr(),
			})
			return conn, nil
		}
		zaplogger.Warn("unable to connect to service", zaplogger.Fields{
			"type":  serviceType,
			"retry": backoff.String(),
		})
		time.Sleep(backoff)
		if backoff *= 2; backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return nil, fmt.Errorf("unable to connect to %s for project %s", serviceType, project)
}
