// Package codec implements the newline-framed JSON wire codec (spec §4.1,
// component C1) used on the helper↔daemon IPC hop: one UTF-8 JSON object
// per line. The WebSocket hops do not use this codec; they carry one JSON
// object per text frame. Newline framing is chosen over length-prefixing
// because it stays trivially loggable and greppable, and the stream
// socket already preserves byte order.
package codec

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/browserbridge/bridge/internal/protocol"
)

// MaxBufferSize caps a single frame. A line that grows past this before
// a terminator is found is treated as hostile and the connection is
// dropped, per spec §4.1 and §8 (boundary: exactly MaxBufferSize is
// accepted, +1 is not).
const MaxBufferSize = 1 << 20 // 1 MiB

// Decoder reads newline-delimited JSON envelopes from a byte stream.
// It is not safe for concurrent use by multiple goroutines — each
// connection's read loop owns exactly one Decoder.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder wraps r with a bounded line reader.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 4096)}
}

// Decode reads the next frame. On malformed JSON it returns
// protocol.ErrMalformedFrame wrapping the parse error — the caller
// should log and keep reading, per spec's "log and drop that line, keep
// the connection" failure mode. On an oversize line it returns
// protocol.ErrBufferOverflow, which the caller must treat as fatal for
// the connection. io.EOF (including a partial frame discarded on close)
// propagates unwrapped.
func (d *Decoder) Decode() (protocol.Envelope, error) {
	line, err := d.readLine()
	if err != nil {
		return protocol.Envelope{}, err
	}

	var env protocol.Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return protocol.Envelope{}, fmt.Errorf("%w: %v", protocol.ErrMalformedFrame, err)
	}
	return env, nil
}

// readLine reads up to the next '\n', enforcing MaxBufferSize across
// possibly-multiple ReadSlice calls (bufio's internal buffer may be
// smaller than a legitimate frame).
func (d *Decoder) readLine() ([]byte, error) {
	var buf []byte
	for {
		chunk, err := d.r.ReadSlice('\n')
		buf = append(buf, chunk...)
		if len(buf) > MaxBufferSize {
			return nil, protocol.ErrBufferOverflow
		}
		if err == nil {
			// Found the terminator.
			return trimNewline(buf), nil
		}
		if err == bufio.ErrBufferFull {
			// No terminator yet within this chunk; keep accumulating.
			continue
		}
		// io.EOF or a real read error: if we have a trailing partial
		// frame, discard it per spec ("partial frame on close").
		return nil, err
	}
}

func trimNewline(b []byte) []byte {
	if n := len(b); n > 0 && b[n-1] == '\n' {
		b = b[:n-1]
	}
	if n := len(b); n > 0 && b[n-1] == '\r' {
		b = b[:n-1]
	}
	return b
}

// Encoder writes newline-delimited JSON envelopes to a byte stream. It
// is safe for concurrent use: multiple goroutines may hold a reference
// to the same connection's Encoder (e.g. the daemon's per-helper read
// loop and its per-request response goroutines).
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEncoder wraps w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes one frame followed by a single LF byte.
func (e *Encoder) Encode(env protocol.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("codec: marshal envelope: %w", err)
	}
	data = append(data, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()
	_, err = e.w.Write(data)
	return err
}
