package broker

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/nsvirk/stockmarket/internal/market"
	"github.com/nsvirk/stockmarket/pkg/utils/zaplogger"
)

// lbEntry is one ranked leaderboard row.
type lbEntry struct {
	Username string
	NetWorth float64
}

// rebuildLeaderboard polls every idle shard for its users' net worths
// and re-ranks the union. Shards with a request in flight are skipped,
// so the leaderboard is eventually consistent and may briefly omit
// users during bursts.
func (b *Broker) rebuildLeaderboard() {
	snapshot := b.latest
	req := market.Request{
		Action:          "broker_leaderboard",
		Username:        "broker",
		Password:        "broker",
		LatestStockInfo: &snapshot,
	}

	worths := make(map[string]float64)
	for shard, st := range b.shards {
		if st.inFlight != nil || st.wc == nil {
			continue
		}
		st.wc.SetWriteDeadline(time.Now().Add(writeTimeout))
		err := st.wc.Send(req)
		st.wc.SetWriteDeadline(time.Time{})
		if err != nil {
			zaplogger.Warn("leaderboard poll failed", zaplogger.Fields{"shard": shard, "error": err.Error()})
			st.wc.Close()
			st.wc = nil
			continue
		}

		var resp struct {
			Success bool               `json:"Success"`
			Value   map[string]float64 `json:"Value"`
		}
		st.wc.SetReadDeadline(time.Now().Add(writeTimeout))
		err = st.wc.DecodeInto(&resp)
		st.wc.SetReadDeadline(time.Time{})
		if err != nil {
			zaplogger.Warn("leaderboard poll failed", zaplogger.Fields{"shard": shard, "error": err.Error()})
			st.wc.Close()
			st.wc = nil
			continue
		}
		for username, worth := range resp.Value {
			worths[username] = worth
		}
	}

	entries := make([]lbEntry, 0, len(worths))
	for username, worth := range worths {
		entries = append(entries, lbEntry{Username: username, NetWorth: worth})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].NetWorth > entries[j].NetWorth })
	b.leaderboard = entries
	zaplogger.Debug("leaderboard updated", zaplogger.Fields{"users": len(entries)})
}

// leaderboardResponse renders the cached top 10 as a text block.
func (b *Broker) leaderboardResponse() market.Response {
	if len(b.leaderboard) == 0 {
		b.rebuildLeaderboard()
	}
	var sb strings.Builder
	sb.WriteString("TOP 10\n")
	sb.WriteString("---------------\n")
	for i, entry := range b.leaderboard {
		if i >= 10 {
			break
		}
		fmt.Fprintf(&sb, "%s | %v\n", entry.Username, math.Round(entry.NetWorth*100)/100)
	}
	return market.OK(sb.String())
}
