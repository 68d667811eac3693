package market

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStockUpdateWireShape(t *testing.T) {
	u := StockUpdate{
		Time: 42,
		Prices: map[string]float64{
			"TSLA": 123.45, "MSFT": 1, "AAPL": 0.5, "NVDA": 700, "AMZN": 99.99,
		},
	}

	data, err := json.Marshal(u)
	require.NoError(t, err)

	// Ticker prices are top-level keys, not nested.
	var flat map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &flat))
	assert.Equal(t, UpdateType, flat["type"])
	assert.Equal(t, float64(42), flat["time"])
	assert.Equal(t, 123.45, flat["TSLA"])

	var back StockUpdate
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, u.Time, back.Time)
	assert.Equal(t, u.Prices, back.Prices)
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    int64
		wantErr bool
	}{
		{name: "integer", raw: `7`, want: 7},
		{name: "negative integer", raw: `-3`, want: -3},
		{name: "float truncates", raw: `2.9`, want: 2},
		{name: "decimal string", raw: `"12"`, want: 12},
		{name: "padded string", raw: `" 5 "`, want: 5},
		{name: "word string", raw: `"lots"`, wantErr: true},
		{name: "object", raw: `{"a":1}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount(json.RawMessage(tt.raw))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
