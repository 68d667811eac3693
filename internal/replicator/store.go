// Package replicator implements one shard of the account store: the
// request operations, their WAL-backed durability, and the upstream
// connection the broker drives requests through.
package replicator

import (
	"fmt"
	"strconv"
	"time"

	"github.com/nsvirk/stockmarket/internal/market"
	"github.com/nsvirk/stockmarket/internal/wal"
	"github.com/nsvirk/stockmarket/pkg/utils/zaplogger"
)

// Store owns the shard's accounts. It is single-owner: only the
// upstream handler calls into it, so no locking is needed.
type Store struct {
	users  map[string]*market.User
	log    *wal.Log
	latest map[string]float64
}

// NewStore wraps the recovered accounts and their log.
func NewStore(log *wal.Log, users map[string]*market.User) *Store {
	return &Store{users: users, log: log}
}

// SetLatest refreshes the price view used to value trades. The broker
// injects its live snapshot into every request.
func (s *Store) SetLatest(prices map[string]float64) {
	s.latest = prices
}

// Users returns how many accounts the shard owns.
func (s *Store) Users() int { return len(s.users) }

// Perform applies one request and returns the reply. A non-nil error
// means a durability failure; the shard must terminate so the
// supervisor restarts it into replay.
func (s *Store) Perform(req market.Request) (market.Response, error) {
	if req.Action == "" {
		return market.Fail("Action was not provided"), nil
	}
	if req.Username == "" {
		return market.Fail("Username not provided."), nil
	}
	if req.Password == "" {
		return market.Fail("Password not provided"), nil
	}
	if s.latest == nil {
		return market.Fail("Malformed request"), nil
	}

	if req.Action == "broker_leaderboard" {
		return market.OK(s.netWorths()), nil
	}
	if req.Action == "register" {
		return s.register(req.Username, req.Password)
	}

	user, resp := s.authenticate(req.Username, req.Password)
	if user == nil {
		return resp, nil
	}

	switch req.Action {
	case "buy":
		return s.buy(user, req)
	case "sell":
		return s.sell(user, req)
	case "balance":
		return s.balance(user), nil
	default:
		return market.Fail(fmt.Sprintf("%s is an invalid action.", req.Action)), nil
	}
}

// MaybeCheckpoint rotates the log once enough records have committed.
func (s *Store) MaybeCheckpoint() error {
	if !s.log.ShouldCheckpoint() {
		return nil
	}
	return s.log.Checkpoint(s.users)
}

func (s *Store) register(username, password string) (market.Response, error) {
	if _, taken := s.users[username]; taken {
		return market.Fail(fmt.Sprintf("Username %s is already in use.", username)), nil
	}
	err := s.log.Append(wal.Record{
		Time:     time.Now().UnixNano(),
		Op:       wal.OpRegister,
		Username: username,
		Password: password,
	})
	if err != nil {
		return market.Response{}, err
	}
	s.users[username] = market.NewUser(username, password)
	zaplogger.Debug("user registered", zaplogger.Fields{"username": username})
	return market.OK(nil), nil
}

func (s *Store) authenticate(username, password string) (*market.User, market.Response) {
	user, ok := s.users[username]
	if !ok {
		return nil, market.Fail("User associated with Username does not exist.")
	}
	if user.Password != password {
		return nil, market.Fail(fmt.Sprintf("Password for %s is incorrect", username))
	}
	return user, market.Response{}
}

// checkTrade validates the ticker and amount shared by buy and sell.
// The trivial flag marks an amount of zero, which succeeds without
// touching state or the log.
func (s *Store) checkTrade(req market.Request, verb string) (amount int64, trivial bool, resp market.Response, ok bool) {
	if !market.ValidTicker(req.Ticker) {
		return 0, false, market.Fail(fmt.Sprintf("Ticker %s is not valid.", req.Ticker)), false
	}
	if req.Amount == nil {
		return 0, false, market.Fail(fmt.Sprintf("Amount to %s was not specified", verb)), false
	}
	amount, err := market.ParseAmount(req.Amount)
	if err != nil {
		return 0, false, market.Fail(fmt.Sprintf("Amount must be an integer value: %v", err)), false
	}
	if amount < 0 {
		return 0, false, market.Fail("Amount must be a positive value >0."), false
	}
	return amount, amount == 0, market.Response{}, true
}

func (s *Store) buy(user *market.User, req market.Request) (market.Response, error) {
	amount, trivial, resp, ok := s.checkTrade(req, "purchase")
	if !ok {
		return resp, nil
	}
	if trivial {
		return market.OK(fmt.Sprintf("Purchased 0 shares of %s.", req.Ticker)), nil
	}

	// snapshot buy price
	price := s.latest[req.Ticker]
	if !user.CanPurchase(amount, price) {
		return market.Fail(fmt.Sprintf("Insufficient funds to purchase %d shares of %s at %s",
			amount, req.Ticker, fmtPrice(price))), nil
	}
	err := s.log.Append(wal.Record{
		Time:     time.Now().UnixNano(),
		Op:       wal.OpBuy,
		Username: user.Username,
		Ticker:   req.Ticker,
		Amount:   amount,
		Price:    price,
	})
	if err != nil {
		return market.Response{}, err
	}
	user.Purchase(req.Ticker, amount, price)
	return market.OK(fmt.Sprintf("Purchased %d shares of %s at %s", amount, req.Ticker, fmtPrice(price))), nil
}

func (s *Store) sell(user *market.User, req market.Request) (market.Response, error) {
	amount, trivial, resp, ok := s.checkTrade(req, "sell")
	if !ok {
		return resp, nil
	}
	if trivial {
		return market.OK(fmt.Sprintf("Sold 0 shares of %s.", req.Ticker)), nil
	}

	// selling at price zero is allowed
	price := s.latest[req.Ticker]
	if !user.CanSell(amount, req.Ticker) {
		return market.Fail(fmt.Sprintf("Insufficient owned shares to sell %d shares of %s at %s",
			amount, req.Ticker, fmtPrice(price))), nil
	}
	err := s.log.Append(wal.Record{
		Time:     time.Now().UnixNano(),
		Op:       wal.OpSell,
		Username: user.Username,
		Ticker:   req.Ticker,
		Amount:   amount,
		Price:    price,
	})
	if err != nil {
		return market.Response{}, err
	}
	user.Sell(req.Ticker, amount, price)
	return market.OK(fmt.Sprintf("Sold %d shares of %s at %s", amount, req.Ticker, fmtPrice(price))), nil
}

func (s *Store) balance(user *market.User) market.Response {
	worth := user.NetWorth(s.latest)
	stocks := make(map[string]int64, len(user.Stocks))
	for t, n := range user.Stocks {
		stocks[t] = n
	}
	return market.OK(market.Balance{
		Str:      user.String() + fmt.Sprintf("Net Worth: %s", fmtPrice(worth)),
		NetWorth: worth,
		Cash:     user.Cash,
		Stocks:   stocks,
	})
}

// netWorths values every account at the current price view, for the
// broker's leaderboard poll.
func (s *Store) netWorths() map[string]float64 {
	worths := make(map[string]float64, len(s.users))
	for username, user := range s.users {
		worths[username] = user.NetWorth(s.latest)
	}
	return worths
}

func fmtPrice(p float64) string {
	return strconv.FormatFloat(p, 'g', -1, 64)
}
