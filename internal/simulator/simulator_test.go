package simulator

import (
	"encoding/json"
	"math"
	"math/rand"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nsvirk/stockmarket/internal/market"
)

func TestSampleMinuteDeterministic(t *testing.T) {
	bar := Bar{Open: 100, High: 104, Low: 99, Close: 102}

	a := sampleMinute(bar, 10, rand.New(rand.NewSource(7)))
	b := sampleMinute(bar, 10, rand.New(rand.NewSource(7)))
	assert.Equal(t, a, b, "same seed must give the same path")

	c := sampleMinute(bar, 10, rand.New(rand.NewSource(8)))
	assert.NotEqual(t, a, c)
}

func TestSampleMinuteShape(t *testing.T) {
	bar := Bar{Open: 100, High: 104, Low: 99, Close: 102}
	samples := 600
	path := sampleMinute(bar, samples, rand.New(rand.NewSource(1)))

	require.Len(t, path, samples+1)
	for _, p := range path {
		// rounded to cents
		assert.InDelta(t, p, math.Round(p*100)/100, 1e-9)
	}
}

func TestSampleMinuteFlatBar(t *testing.T) {
	// A flat bar still gets the 0.01 noise floor, so the path wiggles
	// around the constant price rather than sticking to it exactly.
	bar := Bar{Open: 50, High: 50, Low: 50, Close: 50}
	path := sampleMinute(bar, 100, rand.New(rand.NewSource(3)))
	for _, p := range path {
		assert.InDelta(t, 50, p, 1.0)
	}
}

func writeBars(t *testing.T, dir, ticker, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ticker+".csv"), []byte(body), 0o644))
}

func TestLoadBars(t *testing.T) {
	dir := t.TempDir()
	header := "symbol,timestamp,open,high,low,close,volume\n"
	for _, ticker := range market.Tickers {
		writeBars(t, dir, ticker, header+
			ticker+",2021-01-04T09:30:00,100.5,101,99.5,100.75,12345\n"+
			ticker+",2021-01-04T09:31:00,100.75,102,100,101.5,2345\n")
	}

	bars, err := LoadBars(dir)
	require.NoError(t, err)
	require.Len(t, bars, len(market.Tickers))

	series := bars["TSLA"]
	require.Len(t, series, 2)
	assert.Equal(t, Bar{Open: 100.5, High: 101, Low: 99.5, Close: 100.75}, series[0])
	assert.Equal(t, Bar{Open: 100.75, High: 102, Low: 100, Close: 101.5}, series[1])
}

func TestLoadBarsMissingFile(t *testing.T) {
	dir := t.TempDir()
	header := "symbol,timestamp,open,high,low,close\n"
	writeBars(t, dir, "TSLA", header+"TSLA,x,1,2,0.5,1.5\n")

	_, err := LoadBars(dir)
	assert.Error(t, err)
}

func TestLoadBarsBadRow(t *testing.T) {
	dir := t.TempDir()
	header := "symbol,timestamp,open,high,low,close\n"
	for _, ticker := range market.Tickers {
		writeBars(t, dir, ticker, header+ticker+",x,1,2,0.5,oops\n")
	}
	_, err := LoadBars(dir)
	assert.Error(t, err)
}

func TestSubscriptionsExpiry(t *testing.T) {
	subs := newSubscriptions()
	start := time.Now().UnixNano()
	timeout := int64(market.SubscribeTimeout)

	require.NoError(t, subs.add("127.0.0.1", 7001, start))
	require.NoError(t, subs.add("127.0.0.1", 7002, start+1))
	require.Equal(t, 2, subs.len())

	// Nothing has aged out yet.
	assert.Zero(t, subs.expire(start+2))
	assert.Equal(t, 2, subs.len())

	// Expiry at exactly the timeout is inclusive.
	assert.Equal(t, 1, subs.expire(start+timeout))
	assert.Equal(t, 1, subs.len())

	assert.Equal(t, 1, subs.expire(start+timeout+1))
	assert.Zero(t, subs.len())
}

func TestSubscriptionsRefresh(t *testing.T) {
	subs := newSubscriptions()
	start := time.Now().UnixNano()
	timeout := int64(market.SubscribeTimeout)

	require.NoError(t, subs.add("127.0.0.1", 7001, start))
	// Refresh just before expiry; the stale queue head must not evict.
	require.NoError(t, subs.add("127.0.0.1", 7001, start+timeout-1))

	assert.Zero(t, subs.expire(start+timeout))
	assert.Equal(t, 1, subs.len())

	assert.Equal(t, 1, subs.expire(start+2*timeout-1))
	assert.Zero(t, subs.len())
}

func TestPublishDelayQueue(t *testing.T) {
	pub, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer pub.Close()

	sub, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer sub.Close()

	next := make(map[string][]float64, len(market.Tickers))
	for _, ticker := range market.Tickers {
		path := make([]float64, market.ClientDelay+1)
		for k := range path {
			path[k] = float64(10 + k)
		}
		next[ticker] = path
	}
	s := &Simulator{
		next:    next,
		samples: market.ClientDelay,
		subs:    newSubscriptions(),
		pub:     pub,
	}
	require.NoError(t, s.subs.add("127.0.0.1", sub.LocalAddr().(*net.UDPAddr).Port, time.Now().UnixNano()))

	// The first D publishes only fill the queue; nothing reaches the
	// subscriber yet.
	for i := 0; i < market.ClientDelay; i++ {
		s.tick = i
		s.publish(time.Now())
	}
	sub.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	buf := make([]byte, 64*1024)
	_, _, err = sub.ReadFromUDP(buf)
	assert.Error(t, err, "nothing should be published before the delay elapses")

	// Publish D+1 releases the very first update.
	s.tick = market.ClientDelay
	s.publish(time.Now())

	sub.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := sub.ReadFromUDP(buf)
	require.NoError(t, err)

	var got market.StockUpdate
	require.NoError(t, json.Unmarshal(buf[:n], &got))
	assert.Equal(t, 10.0, got.Prices["TSLA"], "subscriber sees the tick published D updates ago")
}

func TestSubscriptionsEach(t *testing.T) {
	subs := newSubscriptions()
	now := time.Now().UnixNano()
	require.NoError(t, subs.add("127.0.0.1", 7001, now))
	require.NoError(t, subs.add("127.0.0.1", 7002, now))

	seen := 0
	subs.each(func(addr *net.UDPAddr) { seen++ })
	assert.Equal(t, 2, seen)
}
