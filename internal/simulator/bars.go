// Package simulator synthesizes tick-level price streams from
// historical minute bars and fans them out: live over TCP to the
// broker, delayed over UDP to subscribers.
package simulator

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/nsvirk/stockmarket/internal/market"
)

// Bar is one historical minute of a ticker.
type Bar struct {
	Open  float64
	High  float64
	Low   float64
	Close float64
}

// csv column layout: symbol, timestamp, open, high, low, close, …
const (
	colOpen  = 2
	colHigh  = 3
	colLow   = 4
	colClose = 5
)

// LoadBars reads <dir>/<TICKER>.csv for every ticker in the universe.
// The first row is a header and is skipped.
func LoadBars(dir string) (map[string][]Bar, error) {
	bars := make(map[string][]Bar, len(market.Tickers))
	for _, t := range market.Tickers {
		path := filepath.Join(dir, t+".csv")
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("load bars for %s: %w", t, err)
		}
		r := csv.NewReader(f)
		r.FieldsPerRecord = -1
		rows, err := r.ReadAll()
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("load bars for %s: %w", t, err)
		}
		if len(rows) < 2 {
			return nil, fmt.Errorf("load bars for %s: no data rows", t)
		}
		series := make([]Bar, 0, len(rows)-1)
		for _, row := range rows[1:] {
			bar, err := parseBar(row)
			if err != nil {
				return nil, fmt.Errorf("load bars for %s: %w", t, err)
			}
			series = append(series, bar)
		}
		bars[t] = series
	}
	return bars, nil
}

func parseBar(row []string) (Bar, error) {
	if len(row) <= colClose {
		return Bar{}, fmt.Errorf("row has %d columns, need %d", len(row), colClose+1)
	}
	fields := [4]float64{}
	for i, col := range []int{colOpen, colHigh, colLow, colClose} {
		v, err := strconv.ParseFloat(row[col], 64)
		if err != nil {
			return Bar{}, fmt.Errorf("bad price %q: %w", row[col], err)
		}
		fields[i] = v
	}
	return Bar{Open: fields[0], High: fields[1], Low: fields[2], Close: fields[3]}, nil
}
