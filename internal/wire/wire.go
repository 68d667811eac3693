// Package wire implements the framed message codec used on every
// stream in the system: an ASCII decimal byte length, a newline, the
// JSON payload, and a trailing newline.
package wire

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
)

// FramingError reports a malformed frame. The connection it came from
// cannot be resynchronized and must be closed.
type FramingError struct {
	Reason string
}

func (e *FramingError) Error() string { return "framing: " + e.Reason }

func framingErrf(format string, args ...interface{}) error {
	return &FramingError{Reason: fmt.Sprintf(format, args...)}
}

// Encode frames v as LEN\nJSON\n.
func Encode(v interface{}) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	buf := make([]byte, 0, len(payload)+12)
	buf = strconv.AppendInt(buf, int64(len(payload)), 10)
	buf = append(buf, '\n')
	buf = append(buf, payload...)
	buf = append(buf, '\n')
	return buf, nil
}

// Decoder reads framed messages off a stream.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder wraps r. The decoder owns all reads on the stream from
// here on; interleaving raw reads would corrupt framing.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Decode returns the next JSON payload. The three result states are:
// a payload, a clean io.EOF (peer closed between frames), or an error.
// io.ErrUnexpectedEOF means the peer closed mid-frame; a *FramingError
// means the peer sent garbage.
func (d *Decoder) Decode() (json.RawMessage, error) {
	header, err := d.r.ReadString('\n')
	if err != nil {
		if err == io.EOF {
			if header == "" {
				return nil, io.EOF
			}
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	size, err := strconv.Atoi(header[:len(header)-1])
	if err != nil || size < 0 {
		return nil, framingErrf("length of request in header must be an integer, got %q", header[:len(header)-1])
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	nl, err := d.r.ReadByte()
	if err != nil {
		if err == io.EOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	if nl != '\n' {
		return nil, framingErrf("length of request in header does not match actual request length")
	}
	if !json.Valid(payload) {
		return nil, framingErrf("json is not valid")
	}
	return payload, nil
}

// DecodeInto decodes the next frame directly into v.
func (d *Decoder) DecodeInto(v interface{}) error {
	payload, err := d.Decode()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return framingErrf("payload does not match expected shape: %v", err)
	}
	return nil
}

// SendRaw frames an already-encoded JSON payload and writes it to w.
func SendRaw(w io.Writer, payload []byte) error {
	buf := make([]byte, 0, len(payload)+12)
	buf = strconv.AppendInt(buf, int64(len(payload)), 10)
	buf = append(buf, '\n')
	buf = append(buf, payload...)
	buf = append(buf, '\n')
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("send frame: %w", err)
	}
	return nil
}

// Send frames v and writes it to w in one call.
func Send(w io.Writer, v interface{}) error {
	buf, err := Encode(v)
	if err != nil {
		return err
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("send frame: %w", err)
	}
	return nil
}

// IsFraming reports whether err is a framing violation rather than a
// transport failure.
func IsFraming(err error) bool {
	_, ok := err.(*FramingError)
	return ok
}

// Conn couples a net.Conn with its decoder, since every peer in the
// system speaks frames for the lifetime of the connection.
type Conn struct {
	net.Conn
	dec *Decoder
}

// NewConn wraps c for framed traffic.
func NewConn(c net.Conn) *Conn {
	return &Conn{Conn: c, dec: NewDecoder(c)}
}

// Decode reads the next frame off the connection.
func (c *Conn) Decode() (json.RawMessage, error) { return c.dec.Decode() }

// DecodeInto reads the next frame into v.
func (c *Conn) DecodeInto(v interface{}) error { return c.dec.DecodeInto(v) }

// Send frames v onto the connection.
func (c *Conn) Send(v interface{}) error { return Send(c.Conn, v) }
