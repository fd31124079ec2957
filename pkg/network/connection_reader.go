package network

import (
	"io"
	"net"
)

// ConnectionReader owns the framing buffer and a back-reference to the
// owning Node. It is consumed by the handshake stage (which may read
// directly off RawConn) and then, once a connection is promoted, handed to
// the reading loop, which drives it until EOF or error.
//
// Go's garbage collector reclaims the Node<->ConnectionReader reference
// cycle on its own, so ConnectionReader simply holds a plain *Node.
// Shutdown is instead observed via node.closeCh, which every long-running
// task selects on.
type ConnectionReader struct {
	node *Node
	conn net.Conn
	buf  *buffer
}

func newConnectionReader(node *Node, conn net.Conn) *ConnectionReader {
	return &ConnectionReader{
		node: node,
		conn: conn,
		buf:  newBuffer(node.config.ConnReadBufferSize),
	}
}

// Node returns the owning Node, for handshake closures that need to reach
// node-level configuration or state.
func (r *ConnectionReader) Node() *Node { return r.node }

// ReadExact blocks until exactly n bytes have been read off the socket,
// bypassing the framing buffer. It is meant for handshake closures that
// speak a fixed-size wire format directly, before any Reading stage is
// attached.
func (r *ConnectionReader) ReadExact(n int) ([]byte, error) {
	out := make([]byte, n)
	read := 0
	for read < n {
		m, err := r.conn.Read(out[read:])
		if err != nil {
			return nil, err
		}
		read += m
	}
	return out, nil
}

// fillOnce reads up to the buffer's remaining capacity in one syscall,
// returning the byte count read (0 meaning EOF) or an error.
func (r *ConnectionReader) fillOnce() (int, error) {
	tail := r.buf.tail()
	if len(tail) == 0 {
		return 0, nil
	}
	n, err := r.conn.Read(tail)
	if err == io.EOF {
		return n, nil
	}
	return n, err
}
