// Package wal implements the per-shard write-ahead log and checkpoint
// engine. A mutation is durable once its record has been fsynced to the
// log; the checkpoint plus the log suffix is a complete history at
// every instant.
package wal

import (
	"fmt"
	"strconv"
	"strings"
)

// Op is a logged operation kind.
type Op string

const (
	OpBuy      Op = "BUY"
	OpSell     Op = "SELL"
	OpRegister Op = "REGISTER"
)

// Record is one WAL entry. Buy and sell records carry the ticker,
// amount and the snapshot price the trade committed at; register
// records carry the password.
type Record struct {
	Time     int64
	Op       Op
	Username string
	Ticker   string
	Amount   int64
	Price    float64
	Password string
}

// body renders everything after the length prefix, without the newline.
func (r Record) body() string {
	switch r.Op {
	case OpRegister:
		return fmt.Sprintf("%d %s %d %s %d %s",
			r.Time, r.Op, len(r.Username), r.Username, len(r.Password), r.Password)
	default:
		return fmt.Sprintf("%d %s %d %s %s %d %s",
			r.Time, r.Op, len(r.Username), r.Username, r.Ticker, r.Amount, formatPrice(r.Price))
	}
}

// encode renders the full on-disk line: the byte length of the body,
// a space, the body, and a newline.
func (r Record) encode() string {
	body := r.body()
	return strconv.Itoa(len(body)) + " " + body + "\n"
}

func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'g', -1, 64)
}

// errTorn marks a record whose length prefix does not match its body;
// replay must stop at the first torn record.
var errTorn = fmt.Errorf("torn record")

// parseLine decodes one log line. A length mismatch or any parse
// failure inside the body is reported as errTorn.
func parseLine(line string) (Record, error) {
	prefix, body, ok := strings.Cut(line, " ")
	if !ok {
		return Record{}, errTorn
	}
	want, err := strconv.Atoi(prefix)
	if err != nil || len(body) != want {
		return Record{}, errTorn
	}
	return parseBody(body)
}

func parseBody(body string) (Record, error) {
	var rec Record

	tsField, rest, ok := strings.Cut(body, " ")
	if !ok {
		return rec, errTorn
	}
	ts, err := strconv.ParseInt(tsField, 10, 64)
	if err != nil {
		return rec, errTorn
	}
	rec.Time = ts

	opField, rest, ok := strings.Cut(rest, " ")
	if !ok {
		return rec, errTorn
	}
	rec.Op = Op(opField)

	rec.Username, rest, err = cutCounted(rest)
	if err != nil {
		return rec, errTorn
	}

	switch rec.Op {
	case OpRegister:
		rec.Password, _, err = cutCounted(rest)
		if err != nil {
			return rec, errTorn
		}
	case OpBuy, OpSell:
		fields := strings.SplitN(rest, " ", 3)
		if len(fields) != 3 {
			return rec, errTorn
		}
		rec.Ticker = fields[0]
		if rec.Amount, err = strconv.ParseInt(fields[1], 10, 64); err != nil {
			return rec, errTorn
		}
		if rec.Price, err = strconv.ParseFloat(fields[2], 64); err != nil {
			return rec, errTorn
		}
	default:
		return rec, errTorn
	}
	return rec, nil
}

// cutCounted consumes a "<len> <value>" pair where value is exactly len
// bytes, and returns the value and whatever follows the separating
// space after it. Usernames and passwords may contain spaces, which is
// why they are length-prefixed.
func cutCounted(s string) (value, rest string, err error) {
	lenField, tail, ok := strings.Cut(s, " ")
	if !ok {
		return "", "", fmt.Errorf("missing counted field")
	}
	n, err := strconv.Atoi(lenField)
	if err != nil || n < 0 || n > len(tail) {
		return "", "", fmt.Errorf("bad counted field length")
	}
	value = tail[:n]
	rest = tail[n:]
	if strings.HasPrefix(rest, " ") {
		rest = rest[1:]
	}
	return value, rest, nil
}
