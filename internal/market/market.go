// Package market holds the ticker universe, wire payload types and the
// user account model shared by the simulator, broker and replicators.
package market

import "time"

// Tickers is the fixed, ordered universe of stocks.
var Tickers = []string{"TSLA", "MSFT", "AAPL", "NVDA", "AMZN"}

// CompanyNames maps each ticker position to its company name.
var CompanyNames = []string{"Tesla", "Microsoft", "Apple", "Nvidia", "Amazon"}

const (
	// InitialCash is the cash balance every account starts with.
	InitialCash = 100000.0

	// SubscribeTimeout is how long a simulator subscription stays live
	// without a refresh. Expiry at exactly the timeout is inclusive.
	SubscribeTimeout = 30 * time.Second

	// ClientDelay is how many publish periods the public price stream
	// lags behind the broker's live stream.
	ClientDelay = 5

	// PublishRate, UpdateRate and MinuteRate are the simulator's base
	// cadences before any speedup is applied.
	PublishRate = 100 * time.Millisecond
	UpdateRate  = 10 * time.Millisecond
	MinuteRate  = 60 * time.Second
)

// ValidTicker reports whether t is part of the universe.
func ValidTicker(t string) bool {
	for _, v := range Tickers {
		if v == t {
			return true
		}
	}
	return false
}

// CompanyName returns the company behind a ticker, or the ticker
// itself when it is not part of the universe.
func CompanyName(ticker string) string {
	for i, t := range Tickers {
		if t == ticker {
			return CompanyNames[i]
		}
	}
	return ticker
}
