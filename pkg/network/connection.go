package network

import (
	"net"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/atomic"
)

// connState tags the lifecycle stage of a Connection. A Connection is
// created handshaking and transitions at most once to handshaken, or is
// torn down directly from handshaking. No resurrection.
type connState int32

const (
	stateHandshaking connState = iota
	stateHandshaken
	stateClosed
)

// Connection exclusively owns one TCP socket and the bookkeeping around it:
// the side tag, the peer address, the bounded outbound channel feeding the
// writer task, the reader task's cancel function, and an opaque
// handshake-supplied state value. Its net.Conn is used concurrently by
// exactly one reader goroutine and one writer goroutine, which is safe —
// net.Conn implementations support concurrent Read and Write from separate
// goroutines.
type Connection struct {
	id   uuid.UUID
	addr PeerAddr
	side Side
	conn net.Conn

	state connState32

	outbound chan []byte

	// writerReady gates the writer goroutine until the handshake stage (if
	// any) releases the raw socket back to the Connection: during
	// handshaking the writer half is lent directly to the handshake
	// closure via RawConn, not driven through outbound.
	writerReady chan struct{}
	readyOnce   sync.Once

	// closedCh is closed exactly once, by close(), to signal teardown to
	// the writer loop and to enqueue. outbound itself is never closed: a
	// concurrent send on a closed channel panics, and enqueue can run
	// concurrently with close() from an unrelated goroutine tearing down
	// the same peer (a read error on another connection, an explicit
	// Disconnect, …), so closedCh is the only thing either side observes.
	closedCh  chan struct{}
	closeOnce sync.Once

	cancelReader func()

	handshakeState any
}

// connState32 is a tiny wrapper keeping the atomic state transition
// (handshaking -> handshaken -> closed) lock-free, in the style of
// go.uber.org/atomic used throughout neo-go's consensus watchdog.
type connState32 struct {
	v atomic.Int32
}

func (s *connState32) load() connState { return connState(s.v.Load()) }
func (s *connState32) store(v connState) { s.v.Store(int32(v)) }

// compareAndSwap transitions the state iff it currently equals old.
func (s *connState32) compareAndSwap(old, new connState) bool {
	return s.v.CAS(int32(old), int32(new))
}

func newConnection(conn net.Conn, addr PeerAddr, side Side, outboundDepth int) *Connection {
	c := &Connection{
		id:          uuid.New(),
		addr:        addr,
		side:        side,
		conn:        conn,
		outbound:    make(chan []byte, outboundDepth),
		writerReady: make(chan struct{}),
		closedCh:    make(chan struct{}),
	}
	c.state.store(stateHandshaking)
	return c
}

// ID returns the connection's log-correlation identifier.
func (c *Connection) ID() uuid.UUID { return c.id }

// Addr is the peer's identity.
func (c *Connection) Addr() PeerAddr { return c.addr }

// Side reports whether this node dialed (Initiator) or accepted (Responder)
// the socket.
func (c *Connection) Side() Side { return c.side }

// Handshaken reports whether the connection has completed the handshake
// stage (or had none enabled and was promoted immediately).
func (c *Connection) Handshaken() bool { return c.state.load() == stateHandshaken }

// RawConn exposes the underlying socket directly. It is intended for use
// by a handshake closure only — application code must never write to it,
// since doing so races with the writer task once promotion completes.
func (c *Connection) RawConn() net.Conn { return c.conn }

// Write implements WireWriter, letting a Writing stage's WriteMessage
// target the connection's socket without holding a net.Conn reference of
// its own. It is only ever called from the writer task.
func (c *Connection) Write(p []byte) (int, error) { return c.conn.Write(p) }

// releaseWriter allows the writer goroutine (parked on writerReady) to
// begin draining outbound. Called at promotion and again by close(); only
// the first call has an effect.
func (c *Connection) releaseWriter() {
	c.readyOnce.Do(func() { close(c.writerReady) })
}

// enqueue attempts a non-blocking send to the outbound channel, used by
// SendDirectMessage. Returns ErrQueueFull if the channel has no room, or
// ErrNotConnected if the connection has already been torn down.
//
// outbound is never closed — only closedCh is — so this send can never race
// a close() into a "send on closed channel" panic: a caller that loses the
// race just finds closedCh ready instead of room in outbound.
func (c *Connection) enqueue(payload []byte) error {
	select {
	case <-c.closedCh:
		return ErrNotConnected
	default:
	}
	select {
	case c.outbound <- payload:
		return nil
	case <-c.closedCh:
		return ErrNotConnected
	default:
		return ErrQueueFull
	}
}

// close marks the connection closed, closes the socket, and signals
// closedCh so the writer loop and any in-flight enqueue calls observe
// teardown. It also releases writerReady: a connection that never reaches
// promote (failed/timed-out handshake) would otherwise leave its writer
// goroutine parked on that gate forever. Idempotent.
func (c *Connection) close() {
	if !c.transitionToClosed() {
		return
	}
	c.conn.Close()
	if c.cancelReader != nil {
		c.cancelReader()
	}
	c.releaseWriter()
	close(c.closedCh)
}

func (c *Connection) transitionToClosed() bool {
	for {
		cur := c.state.load()
		if cur == stateClosed {
			return false
		}
		if c.state.compareAndSwap(cur, stateClosed) {
			return true
		}
	}
}
