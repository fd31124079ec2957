package network

import (
	"context"
	"io"
)

// ContainsNode is implemented by any user type that wraps a *Node.
// Stage-enabling methods are called on such a wrapper, not on *Node
// directly, so a user's state (handshake nonces, echo dedup sets, …) can
// live alongside the library's.
type ContainsNode interface {
	Node() *Node
}

// HandshakeState is an opaque carrier for whatever a user's handshake
// closure produces: the core moves it from the handshake stage to
// StateSink without knowing its shape.
type HandshakeState any

// HandshakeFunc runs one side of a handshake over reader/conn, returning
// the (possibly-buffered) reader to hand off to the Reading stage and an
// opaque completion value. Returning an error fails the handshake; the
// context is cancelled at Config.HandshakeTimeout.
type HandshakeFunc func(ctx context.Context, addr PeerAddr, reader *ConnectionReader, conn *Connection) (*ConnectionReader, HandshakeState, error)

// HandshakeResult is delivered to StateSink once a handshake completes
// successfully.
type HandshakeResult struct {
	Addr  PeerAddr
	State HandshakeState
}

// HandshakeSetup bundles the two handshake closures a node installs via
// EnableHandshaking. Initiator runs on the dialing side, Responder on the
// accepting side — the node picks by the Connection's Side.
type HandshakeSetup struct {
	Initiator HandshakeFunc
	Responder HandshakeFunc
	// StateSink, if non-nil, receives one HandshakeResult per successful
	// handshake. Sends are non-blocking from the node's perspective: the
	// channel should be buffered or drained promptly by the caller.
	StateSink chan<- HandshakeResult
}

// Handshaking is implemented by a node wrapper that wants every new
// Connection to traverse a handshake stage before promotion.
type Handshaking interface {
	ContainsNode
	EnableHandshaking()
}

// Reading is implemented by a node wrapper that wants inbound bytes
// decoded and dispatched. Enabling Reading without Writing is legal and
// useful for pure sinks.
type Reading interface {
	ContainsNode
	// ReadMessage is the Decoder for this node (see framing.go's Decoder
	// type) expressed as a method so it can close over user state.
	ReadMessage(source PeerAddr, data []byte) (message any, consumed int, complete bool, err error)
	// ProcessMessage handles one decoded message. An error is logged and
	// treated as connection-terminal.
	ProcessMessage(source PeerAddr, message any) error
}

// Writing is implemented by a node wrapper that wants outbound payloads
// encoded onto the wire.
type Writing interface {
	ContainsNode
	WriteMessage(conn WireWriter, payload []byte) error
}

// WireWriter is the minimal surface WriteMessage needs — just Write — so a
// user Encoder is handed a *Connection without being tempted to reach for
// Close or the address accessors a raw net.Conn would expose.
type WireWriter = io.Writer

// Disconnecting is implemented by a node wrapper whose OnDisconnect fires
// exactly once per Connection that reached handshaken at least once.
type Disconnecting interface {
	ContainsNode
	OnDisconnect(addr PeerAddr)
}
