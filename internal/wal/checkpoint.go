package wal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nsvirk/stockmarket/internal/market"
)

// writeCheckpoint writes the shadow file, fsyncs it and atomically
// renames it over the live checkpoint.
func (l *Log) writeCheckpoint(users map[string]*market.User) error {
	f, err := os.OpenFile(l.shadowPath(), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("checkpoint shadow: %w", err)
	}
	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "%d\n", time.Now().UnixNano())
	for username, user := range users {
		stocks, err := json.Marshal(user.Stocks)
		if err != nil {
			f.Close()
			return fmt.Errorf("checkpoint stocks: %w", err)
		}
		fmt.Fprintf(w, "%d %s %d %s %s %s\n",
			len(username), username,
			len(user.Password), user.Password,
			strconv.FormatFloat(user.Cash, 'g', -1, 64), stocks)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("checkpoint flush: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("checkpoint fsync: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("checkpoint close: %w", err)
	}
	if err := os.Rename(l.shadowPath(), l.ckptPath()); err != nil {
		return fmt.Errorf("checkpoint rename: %w", err)
	}
	return nil
}

// loadCheckpoint rebuilds the account map from the live checkpoint, if
// one exists, and returns its header timestamp.
func (l *Log) loadCheckpoint(users map[string]*market.User) (int64, bool, error) {
	f, err := os.Open(l.ckptPath())
	if os.IsNotExist(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("open checkpoint: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	if !scanner.Scan() {
		return 0, true, scanner.Err()
	}
	ckptTime, err := strconv.ParseInt(strings.TrimSpace(scanner.Text()), 10, 64)
	if err != nil {
		return 0, true, fmt.Errorf("checkpoint header: %w", err)
	}

	for scanner.Scan() {
		user, err := parseCheckpointLine(scanner.Text())
		if err != nil {
			return 0, true, fmt.Errorf("checkpoint entry: %w", err)
		}
		users[user.Username] = user
	}
	return ckptTime, true, scanner.Err()
}

// parseCheckpointLine decodes one account entry:
// <ulen> <username> <plen> <password> <cash> <stocks_json>
func parseCheckpointLine(line string) (*market.User, error) {
	username, rest, err := cutCounted(line)
	if err != nil {
		return nil, err
	}
	password, rest, err := cutCounted(rest)
	if err != nil {
		return nil, err
	}
	cashField, stocksField, ok := strings.Cut(rest, " ")
	if !ok {
		return nil, fmt.Errorf("missing stocks field")
	}
	cash, err := strconv.ParseFloat(cashField, 64)
	if err != nil {
		return nil, fmt.Errorf("bad cash value: %w", err)
	}
	stocks := make(map[string]int64)
	if err := json.Unmarshal([]byte(stocksField), &stocks); err != nil {
		return nil, fmt.Errorf("bad stocks value: %w", err)
	}
	user := market.NewUser(username, password)
	user.Cash = cash
	for t, n := range stocks {
		user.Stocks[t] = n
	}
	return user, nil
}
