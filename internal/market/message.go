package market

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// UpdateType is the type tag carried by every price update message.
const UpdateType = "stockmarketsimupdate"

// StockUpdate is one price snapshot published by the simulator. On the
// wire it is a flat object with one key per ticker:
//
//	{"type":"stockmarketsimupdate","time":<ns>,"TSLA":…,"MSFT":…,…}
type StockUpdate struct {
	Time   int64
	Prices map[string]float64
}

// MarshalJSON flattens the per-ticker prices into top-level keys.
func (s StockUpdate) MarshalJSON() ([]byte, error) {
	var sb strings.Builder
	sb.WriteString(`{"type":"` + UpdateType + `","time":`)
	sb.WriteString(strconv.FormatInt(s.Time, 10))
	for _, t := range Tickers {
		sb.WriteString(`,"` + t + `":`)
		sb.WriteString(strconv.FormatFloat(s.Prices[t], 'g', -1, 64))
	}
	sb.WriteString("}")
	return []byte(sb.String()), nil
}

// UnmarshalJSON picks the ticker keys back out of the flat object.
func (s *StockUpdate) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["time"]; ok {
		if err := json.Unmarshal(v, &s.Time); err != nil {
			return fmt.Errorf("stock update time: %w", err)
		}
	}
	s.Prices = make(map[string]float64, len(Tickers))
	for _, t := range Tickers {
		if v, ok := raw[t]; ok {
			var p float64
			if err := json.Unmarshal(v, &p); err != nil {
				return fmt.Errorf("stock update price %s: %w", t, err)
			}
			s.Prices[t] = p
		}
	}
	return nil
}

// Request is the payload of every broker and replicator RPC.
type Request struct {
	Action          string          `json:"action,omitempty"`
	Username        string          `json:"username,omitempty"`
	Password        string          `json:"password,omitempty"`
	Ticker          string          `json:"ticker,omitempty"`
	Amount          json.RawMessage `json:"amount,omitempty"`
	LatestStockInfo *StockUpdate    `json:"latest_stock_info,omitempty"`
}

// ParseAmount interprets a request amount the way clients actually send
// it: an integer, a float (truncated) or a decimal string.
func ParseAmount(raw json.RawMessage) (int64, error) {
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return int64(f), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("amount %q is not an integer", s)
		}
		return v, nil
	}
	return 0, fmt.Errorf("amount is not a number")
}

// Response is the reply shape of every RPC.
type Response struct {
	Success bool        `json:"Success"`
	Value   interface{} `json:"Value"`
}

// OK wraps a successful value.
func OK(v interface{}) Response { return Response{Success: true, Value: v} }

// Fail wraps a failure reason.
func Fail(v interface{}) Response { return Response{Success: false, Value: v} }

// Balance is the Value of a successful balance reply.
type Balance struct {
	Str      string           `json:"Str"`
	NetWorth float64          `json:"Net Worth"`
	Cash     float64          `json:"Cash"`
	Stocks   map[string]int64 `json:"Stocks"`
}

// Hello is the first framed message on a new simulator or replicator
// connection: either a broker promotion or a subscriber registration.
type Hello struct {
	Type     string `json:"type,omitempty"`
	Hostname string `json:"hostname,omitempty"`
	Port     int    `json:"port,omitempty"`
	Resub    bool   `json:"resub,omitempty"`
}

// HelloBroker is the hello type sent by a broker.
const HelloBroker = "broker"
