package wire

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Send(&buf, map[string]string{"action": "register"}))
	require.NoError(t, Send(&buf, []int{1, 2, 3}))

	dec := NewDecoder(&buf)

	first, err := dec.Decode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"register"}`, string(first))

	var second []int
	require.NoError(t, dec.DecodeInto(&second))
	assert.Equal(t, []int{1, 2, 3}, second)

	_, err = dec.Decode()
	assert.Equal(t, io.EOF, err)
}

func TestDecodeCleanEOF(t *testing.T) {
	dec := NewDecoder(strings.NewReader(""))
	_, err := dec.Decode()
	assert.Equal(t, io.EOF, err)
}

func TestDecodeTruncated(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{name: "partial header", in: "17"},
		{name: "partial payload", in: "21\n{\"action\":\"reg"},
		{name: "missing trailer", in: "2\n{}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDecoder(strings.NewReader(tt.in)).Decode()
			assert.Equal(t, io.ErrUnexpectedEOF, err)
		})
	}
}

func TestDecodeFramingErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{name: "non-numeric length", in: "abc\n{}\n"},
		{name: "negative length", in: "-2\n{}\n"},
		{name: "length too short", in: "1\n{}\n"},
		{name: "invalid json", in: "7\nnot js}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDecoder(strings.NewReader(tt.in)).Decode()
			require.Error(t, err)
			assert.True(t, IsFraming(err), "want framing error, got %v", err)
		})
	}
}

func TestSendRawMatchesSend(t *testing.T) {
	var a, b bytes.Buffer
	require.NoError(t, Send(&a, map[string]int{"x": 1}))
	require.NoError(t, SendRaw(&b, []byte(`{"x":1}`)))
	assert.Equal(t, a.String(), b.String())
}

func TestIsFraming(t *testing.T) {
	assert.True(t, IsFraming(&FramingError{Reason: "x"}))
	assert.False(t, IsFraming(io.EOF))
	assert.False(t, IsFraming(nil))
}
