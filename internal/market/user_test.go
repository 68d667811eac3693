package market

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompanyName(t *testing.T) {
	assert.Equal(t, "Tesla", CompanyName("TSLA"))
	assert.Equal(t, "Nvidia", CompanyName("NVDA"))
	assert.Equal(t, "GOOG", CompanyName("GOOG"))
}

func TestNewUser(t *testing.T) {
	u := NewUser("alice", "pw")
	assert.Equal(t, float64(InitialCash), u.Cash)
	require.Len(t, u.Stocks, len(Tickers))
	for _, ticker := range Tickers {
		assert.Zero(t, u.Stocks[ticker])
	}
}

func TestCanPurchaseExactCash(t *testing.T) {
	u := NewUser("alice", "pw")
	u.Cash = 100

	// Spending down to exactly zero is allowed.
	assert.True(t, u.CanPurchase(10, 10))
	assert.False(t, u.CanPurchase(10, 10.01))
}

func TestPurchaseSellRoundTrip(t *testing.T) {
	u := NewUser("alice", "pw")

	u.Purchase("TSLA", 5, 200)
	assert.Equal(t, float64(InitialCash)-1000, u.Cash)
	assert.Equal(t, int64(5), u.Stocks["TSLA"])

	assert.True(t, u.CanSell(5, "TSLA"))
	assert.False(t, u.CanSell(6, "TSLA"))

	u.Sell("TSLA", 5, 250)
	assert.Equal(t, float64(InitialCash)+250, u.Cash)
	assert.Zero(t, u.Stocks["TSLA"])
}

func TestNetWorth(t *testing.T) {
	u := NewUser("alice", "pw")
	u.Purchase("AAPL", 10, 100)

	prices := map[string]float64{"AAPL": 150}
	assert.Equal(t, float64(InitialCash)-1000+1500, u.NetWorth(prices))
}

func TestUserString(t *testing.T) {
	u := NewUser("alice", "pw")
	u.Cash = 1234.5
	u.Stocks["MSFT"] = 3

	s := u.String()
	assert.True(t, strings.HasPrefix(s, "User: alice\n----------------\n"))
	assert.Contains(t, s, "Cash | 1234.50\n")
	assert.Contains(t, s, "MSFT | 3\n")

	// Long usernames are truncated to ten characters.
	long := NewUser("abcdefghijklmnop", "pw")
	assert.Contains(t, long.String(), "User: abcdefghij\n")
}
