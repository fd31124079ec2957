package network

import "io"

// Decoder consumes bytes accumulated in a connection's framing buffer and
// yields complete messages. It is called repeatedly by the Reading loop
// while it keeps reporting complete frames.
//
//   - complete == true: message is the decoded value, consumed is the
//     number of leading bytes of data it occupies (1 <= consumed <= len(data)).
//   - complete == false, err == nil: not enough bytes yet for a full frame.
//   - err != nil: the frame is malformed; the connection is closed with a
//     DecodeError wrapping err.
type Decoder func(source PeerAddr, data []byte) (message any, consumed int, complete bool, err error)

// Encoder writes payload to w, framing it however the protocol requires. w
// is whatever WriteMessage received — in practice a *Connection, exposing
// only Write so user code cannot reach for Close or the address accessors
// a raw net.Conn would tempt it with.
type Encoder func(w io.Writer, payload []byte) error

// buffer is the per-connection growable byte accumulator consulted by a
// user Decoder. It never grows past its configured capacity: once full
// with no decodable frame, the connection is oversized.
type buffer struct {
	data []byte
	len  int
	cap  int
}

func newBuffer(capacity int) *buffer {
	return &buffer{data: make([]byte, capacity), cap: capacity}
}

// full reports whether the buffer has no room left for a read.
func (b *buffer) full() bool { return b.len == b.cap }

// tail returns the writable slice at the end of the occupied region.
func (b *buffer) tail() []byte { return b.data[b.len:b.cap] }

// grow records that n additional bytes were written into tail().
func (b *buffer) grow(n int) { b.len += n }

// bytes returns the occupied region.
func (b *buffer) bytes() []byte { return b.data[:b.len] }

// drop removes the leading n bytes, as required after a decoded frame.
// It panics if n is out of [1, b.len] — a Decoder reporting such a count
// is a programming error, and callers must validate first.
func (b *buffer) drop(n int) {
	if n < 1 || n > b.len {
		panic("network: decoder consumed an invalid byte count")
	}
	copy(b.data, b.data[n:b.len])
	b.len -= n
}
