package market

import (
	"fmt"
	"strings"
)

// User is one trading account, owned by exactly one replicator shard.
type User struct {
	Username string
	Password string
	Cash     float64
	Stocks   map[string]int64
}

// NewUser creates an account with the initial cash balance and zero
// shares of every ticker.
func NewUser(username, password string) *User {
	stocks := make(map[string]int64, len(Tickers))
	for _, t := range Tickers {
		stocks[t] = 0
	}
	return &User{
		Username: username,
		Password: password,
		Cash:     InitialCash,
		Stocks:   stocks,
	}
}

// CanPurchase reports whether the account can afford amount shares at price.
func (u *User) CanPurchase(amount int64, price float64) bool {
	return u.Cash-float64(amount)*price >= 0
}

// CanSell reports whether the account holds at least amount shares of ticker.
func (u *User) CanSell(amount int64, ticker string) bool {
	return u.Stocks[ticker] >= amount
}

// Purchase debits cash and credits shares. Callers check CanPurchase first;
// WAL replay applies historical records through here unconditionally.
func (u *User) Purchase(ticker string, amount int64, price float64) {
	u.Cash -= float64(amount) * price
	u.Stocks[ticker] += amount
}

// Sell credits cash and debits shares.
func (u *User) Sell(ticker string, amount int64, price float64) {
	u.Cash += float64(amount) * price
	u.Stocks[ticker] -= amount
}

// NetWorth is cash plus the value of all holdings at the given prices.
func (u *User) NetWorth(prices map[string]float64) float64 {
	nw := u.Cash
	for _, t := range Tickers {
		nw += float64(u.Stocks[t]) * prices[t]
	}
	return nw
}

// String renders the account block shown in balance replies.
func (u *User) String() string {
	name := u.Username
	if len(name) > 10 {
		name = name[:10]
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "User: %s\n", name)
	sb.WriteString(strings.Repeat("-", 16) + "\n")
	fmt.Fprintf(&sb, "Cash | %.2f\n", u.Cash)
	for _, t := range Tickers {
		fmt.Fprintf(&sb, "%s | %d\n", t, u.Stocks[t])
		sb.WriteString(strings.Repeat("-", 16) + "\n")
	}
	return sb.String()
}
