package network

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	uberatomic "go.uber.org/atomic"
	"go.uber.org/zap"
)

// sequentialNodeID assigns default names to nodes constructed with an
// empty Config.Name.
var sequentialNodeID uberatomic.Int64

// InboundMessage pairs a decoded message with the peer it came from, for
// delivery on the node-wide sink enabled by EnableIncomingRequests.
type InboundMessage struct {
	Source  PeerAddr
	Message any
}

// Node is process-wide unique by its listening socket. It owns its config,
// listening address, the Connections registry, KnownPeers, the optional
// Handshake/Read/Write/Disconnect behaviors, and the accept loop. It is
// alive from New until every goroutine it spawned has observed Close.
type Node struct {
	config Config
	name   string
	clock  clock.Clock

	listener  *net.TCPListener
	localAddr *net.TCPAddr

	connections *connections
	knownPeers  *knownPeers

	log     *zap.Logger
	metrics *metrics

	handshakeSetup     atomic.Value // HandshakeSetup
	reading            atomic.Value // Reading
	writing            atomic.Value // Writing
	disconnectHandler  atomic.Value // Disconnecting

	incomingOnce     sync.Once
	incomingRequests chan InboundMessage

	closeCh   chan struct{}
	closeOnce sync.Once
}

// New builds and starts a Node: it resolves the node's name, binds the
// listening socket, and spawns the accept loop. The returned Node is
// immediately ready to accept and initiate connections.
func New(cfg Config) (*Node, error) {
	cfg = cfg.withDefaults()

	name := cfg.Name
	if name == "" {
		name = strconv.FormatInt(sequentialNodeID.Inc()-1, 10)
	}

	listener, localAddr, err := bindListener(cfg)
	if err != nil {
		return nil, err
	}

	n := &Node{
		config:      cfg,
		name:        name,
		clock:       cfg.Clock,
		listener:    listener,
		localAddr:   localAddr,
		connections: newConnections(),
		knownPeers:  newKnownPeers(cfg.Clock),
		log:         cfg.Logger,
		closeCh:     make(chan struct{}),
	}
	n.metrics = newMetrics(name)
	n.metrics.register(cfg.MetricsRegisterer)

	go n.acceptLoop()

	n.log.Info("node ready", zap.String("node", name), zap.Stringer("addr", localAddr))
	return n, nil
}

func bindListener(cfg Config) (*net.TCPListener, *net.TCPAddr, error) {
	// Every node binds to loopback: this library's nodes dial each other by
	// 127.0.0.1:port, the way the topology builder and its tests assume.
	loopback := net.IPv4(127, 0, 0, 1)

	if cfg.DesiredListeningPort != 0 {
		addr := &net.TCPAddr{IP: loopback, Port: int(cfg.DesiredListeningPort)}
		listener, err := net.ListenTCP("tcp", addr)
		if err == nil {
			return listener, listener.Addr().(*net.TCPAddr), nil
		}
		if !cfg.AllowRandomPort {
			return nil, nil, fmt.Errorf("%w: %v", ErrBindFailed, err)
		}
	} else if !cfg.AllowRandomPort {
		return nil, nil, ErrConfigError
	}

	addr := &net.TCPAddr{IP: loopback, Port: 0}
	listener, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrBindFailed, err)
	}
	return listener, listener.Addr().(*net.TCPAddr), nil
}

// Name is the identifier used in logs: either Config.Name or a sequential
// integer assigned at construction.
func (n *Node) Name() string { return n.name }

// LocalAddr is the address the node's listener is bound to.
func (n *Node) LocalAddr() *net.TCPAddr { return n.localAddr }

func (n *Node) acceptLoop() {
	for {
		conn, err := n.listener.AcceptTCP()
		if err != nil {
			select {
			case <-n.closeCh:
				return
			default:
			}
			n.log.Warn("accept error", zap.String("node", n.name), zap.Error(err))
			continue
		}
		addr := conn.RemoteAddr().(*net.TCPAddr).AddrPort()
		n.knownPeers.add(addr)
		n.metrics.connectionsAccepted.Inc()
		n.adaptStream(conn, addr, Responder)
	}
}

// InitiateConnection dials addr and routes the resulting socket through the
// same pipeline an accepted connection goes through, tagged Initiator.
func (n *Node) InitiateConnection(addr PeerAddr) error {
	if n.connections.isConnected(addr) {
		n.log.Warn("already connecting/connected", zap.String("node", n.name), zap.Stringer("peer", addr))
		return ErrAlreadyConnected
	}
	n.knownPeers.add(addr)

	conn, err := net.DialTCP("tcp", nil, net.TCPAddrFromAddrPort(addr))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}
	n.metrics.connectionsInitiated.Inc()
	n.adaptStream(conn, addr, Initiator)
	return nil
}

// adaptStream wires a freshly accepted or dialed socket into the pipeline:
// split conceptually into a ConnectionReader and a Connection, inserted
// into the handshaking registry, then either dispatched to the handshake
// stage or promoted immediately.
func (n *Node) adaptStream(conn net.Conn, addr PeerAddr, side Side) {
	c := newConnection(conn, addr, side, n.config.OutboundQueueDepth)
	if !n.connections.tryInsert(addr, c) {
		n.connLogger(c).Debug("lost the insertion race for this peer; dropping socket")
		conn.Close()
		return
	}
	n.metrics.handshaking.Inc()

	reader := newConnectionReader(n, conn)

	// The writer task starts now but stays parked on writerReady until
	// promotion, or until close() releases it after a timed-out/failed
	// handshake, in which case it observes closedCh and exits.
	go n.writeLoop(c)

	if setup, ok := n.handshakeSetupValue(); ok {
		go n.runHandshake(c, reader, setup)
		return
	}
	n.promote(c, reader)
}

func (n *Node) runHandshake(c *Connection, reader *ConnectionReader, setup HandshakeSetup) {
	logger := n.connLogger(c)

	fn := setup.Responder
	if c.side == Initiator {
		fn = setup.Initiator
	}
	if fn == nil {
		logger.Warn("handshaking enabled but no closure registered for this side")
		n.knownPeers.registerFailure(c.addr)
		n.metrics.handshakeFailures.Inc()
		n.failHandshake(c)
		return
	}

	type result struct {
		reader *ConnectionReader
		state  HandshakeState
		err    error
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resCh := make(chan result, 1)
	go func() {
		r, s, err := fn(ctx, c.addr, reader, c)
		resCh <- result{r, s, err}
	}()

	timer := n.clock.Timer(n.config.HandshakeTimeout)
	defer timer.Stop()

	select {
	case res := <-resCh:
		if res.err != nil {
			logger.Warn("handshake failed", zap.Error(&HandshakeError{Peer: c.addr, Err: res.err}))
			n.knownPeers.registerFailure(c.addr)
			n.metrics.handshakeFailures.Inc()
			n.failHandshake(c)
			return
		}
		n.promote(c, res.reader)
		if setup.StateSink != nil {
			select {
			case setup.StateSink <- HandshakeResult{Addr: c.addr, State: res.state}:
			default:
				logger.Warn("handshake state sink is full; dropping result")
			}
		}
	case <-timer.C:
		logger.Warn("handshake timed out", zap.Error(&HandshakeError{Peer: c.addr, Err: ErrHandshakeTimeout}))
		cancel()
		c.conn.Close() // unblocks any pending read inside fn
		<-resCh
		n.knownPeers.registerFailure(c.addr)
		n.metrics.handshakeFailures.Inc()
		n.failHandshake(c)
	case <-n.closeCh:
		cancel()
		c.conn.Close()
		<-resCh
		n.failHandshake(c)
	}
}

// failHandshake removes a Connection that never reached handshaken from
// the registry and tears down its socket. It never invokes the disconnect
// hook. The gauge decrement is gated on remove actually having found the
// entry: a concurrent Disconnect/closeConnection may have already removed
// it (and already decremented) while the handshake closure was still
// running on its now-closed socket, and double-decrementing would desync
// the gauge from the registry's real handshaking count.
func (n *Node) failHandshake(c *Connection) {
	if _, ok := n.connections.remove(c.addr); ok {
		n.metrics.handshaking.Dec()
	}
	c.close()
}

// promote moves c from handshaking to handshaken, starting the reading
// loop (if enabled) and releasing the writer task. If c was concurrently
// removed (e.g. a racing Disconnect), it is torn down instead.
func (n *Node) promote(c *Connection, reader *ConnectionReader) {
	if !n.connections.promote(c.addr) {
		c.close()
		return
	}
	if !c.state.compareAndSwap(stateHandshaking, stateHandshaken) {
		// closed by a racing teardown after the registry move
		return
	}
	n.metrics.handshaking.Dec()
	n.metrics.handshaken.Inc()
	c.releaseWriter()

	if _, ok := n.readingValue(); ok {
		go n.readLoop(c, reader)
	}
}

func (n *Node) writeLoop(c *Connection) {
	select {
	case <-c.writerReady:
	case <-n.closeCh:
		return
	}

	behavior, enabled := n.writingValue()
	logger := n.connLogger(c)
	write := func(payload []byte) bool {
		if !enabled {
			return true
		}
		if err := behavior.WriteMessage(c, payload); err != nil {
			logger.Warn("write failed", zap.Error(err))
			n.knownPeers.registerFailure(c.addr)
			n.closeConnection(c)
			return false
		}
		n.knownPeers.registerSent(c.addr, len(payload))
		n.metrics.messagesSent.Inc()
		n.metrics.bytesSent.Add(float64(len(payload)))
		return true
	}

	for {
		select {
		case payload := <-c.outbound:
			if !write(payload) {
				return
			}
		case <-c.closedCh:
			// flush whatever was already queued before the connection was
			// torn down, then exit — closedCh fires once and outbound is
			// never closed, so this drain can't race a concurrent enqueue
			// into a blocking read.
			for {
				select {
				case payload := <-c.outbound:
					write(payload)
				default:
					return
				}
			}
		}
	}
}

func (n *Node) readLoop(c *Connection, reader *ConnectionReader) {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancelReader = cancel
	logger := n.connLogger(c)
	behavior, _ := n.readingValue()

	for {
		select {
		case <-ctx.Done():
			return
		case <-n.closeCh:
			n.closeConnection(c)
			return
		default:
		}

		read, err := reader.fillOnce()
		if err != nil {
			logger.Debug("read error", zap.Error(err))
			n.knownPeers.registerFailure(c.addr)
			n.closeConnection(c)
			return
		}
		if read == 0 {
			logger.Debug("peer closed connection", zap.Error(ErrSocketClosed))
			n.closeConnection(c)
			return
		}
		reader.buf.grow(read)

		for {
			msg, consumed, complete, derr := behavior.ReadMessage(c.addr, reader.buf.bytes())
			if derr != nil {
				logger.Warn("decode error", zap.Error(&DecodeError{Peer: c.addr, Err: derr}))
				n.metrics.decodeErrorClosures.Inc()
				n.closeConnection(c)
				return
			}
			if !complete {
				if reader.buf.full() {
					logger.Warn("message exceeds read buffer size", zap.Error(ErrOversizedMessage))
					n.metrics.oversizedClosures.Inc()
					n.closeConnection(c)
					return
				}
				break
			}
			if consumed < 1 || consumed > len(reader.buf.bytes()) {
				logger.Warn("decoder consumed an invalid byte count", zap.Int("consumed", consumed))
				n.closeConnection(c)
				return
			}
			reader.buf.drop(consumed)
			n.knownPeers.registerReceived(c.addr, consumed)
			n.metrics.messagesReceived.Inc()
			n.metrics.bytesReceived.Add(float64(consumed))

			if perr := behavior.ProcessMessage(c.addr, msg); perr != nil {
				logger.Warn("process_message failed", zap.Error(perr))
				n.closeConnection(c)
				return
			}
			if n.incomingRequests != nil {
				select {
				case n.incomingRequests <- InboundMessage{Source: c.addr, Message: msg}:
				default:
				}
			}
		}
	}
}

// closeConnection tears down c after a reader/writer-task failure. It is
// the single teardown path for every failure mode — EOF, socket error,
// oversized message, decode error — so the registry entry is always
// removed before the socket and tasks are torn down.
func (n *Node) closeConnection(c *Connection) {
	if conn, ok := n.connections.remove(c.addr); ok {
		n.teardown(c.addr, conn)
	}
}

// Disconnect removes addr from the registry, tears down its tasks and
// socket, and fires the disconnect hook if the connection ever reached
// handshaken. It is idempotent: a second call for the same address returns
// false.
func (n *Node) Disconnect(addr PeerAddr) bool {
	conn, ok := n.connections.remove(addr)
	if !ok {
		n.log.Warn("wasn't connected", zap.String("node", n.name), zap.Stringer("peer", addr))
		return false
	}
	n.teardown(addr, conn)
	return true
}

func (n *Node) teardown(addr PeerAddr, conn *Connection) {
	wasHandshaken := conn.Handshaken()
	if wasHandshaken {
		n.metrics.handshaken.Dec()
	} else {
		n.metrics.handshaking.Dec()
	}
	conn.close()
	if wasHandshaken {
		if d, ok := n.disconnectValue(); ok {
			d.OnDisconnect(addr)
		}
	}
}

// SendDirectMessage enqueues payload for delivery to addr. It fails with
// ErrNotConnected if addr has no live Connection, ErrNotHandshaken if it
// has one still handshaking, and ErrQueueFull if the outbound channel is
// saturated.
func (n *Node) SendDirectMessage(addr PeerAddr, payload []byte) error {
	conn, ok := n.connections.get(addr)
	if !ok {
		return ErrNotConnected
	}
	if !conn.Handshaken() {
		return ErrNotHandshaken
	}
	return conn.enqueue(payload)
}

// SendBroadcast enqueues payload to every handshaken peer independently.
// Per-peer failures are collected and returned; they never abort the rest
// of the broadcast.
func (n *Node) SendBroadcast(payload []byte) map[PeerAddr]error {
	snapshot := n.connections.handshakenSnapshot()
	failures := make(map[PeerAddr]error, 0)
	for addr, conn := range snapshot {
		if err := conn.enqueue(payload); err != nil {
			failures[addr] = err
		}
	}
	return failures
}

// IsConnected reports whether addr is handshaking or handshaken.
func (n *Node) IsConnected(addr PeerAddr) bool { return n.connections.isConnected(addr) }

// IsHandshaking reports whether addr is specifically in the handshaking stage.
func (n *Node) IsHandshaking(addr PeerAddr) bool { return n.connections.isHandshaking(addr) }

// IsHandshaken reports whether addr has completed the handshake stage.
func (n *Node) IsHandshaken(addr PeerAddr) bool { return n.connections.isHandshaken(addr) }

// NumConnected is |handshaking| + |handshaken|.
func (n *Node) NumConnected() int { return n.connections.numConnected() }

// HandshakenAddrs lists every peer that has completed the handshake stage.
func (n *Node) HandshakenAddrs() []PeerAddr { return n.connections.handshakenAddrs() }

// ConnectedAddrs lists every peer in either registry.
func (n *Node) ConnectedAddrs() []PeerAddr { return n.connections.connectedAddrs() }

// PeerStats returns the accumulated statistics for addr, if it has ever
// been observed.
func (n *Node) PeerStats(addr PeerAddr) (*PeerStats, bool) { return n.knownPeers.get(addr) }

// KnownAddrs lists every address ever observed via accept, initiate, or a
// manual AddKnownPeer.
func (n *Node) KnownAddrs() []PeerAddr { return n.knownPeers.addrs() }

// AddKnownPeer records addr in KnownPeers without connecting to it.
func (n *Node) AddKnownPeer(addr PeerAddr) { n.knownPeers.add(addr) }

// EnableIncomingRequests lazily creates the node-wide processed-message
// sink and returns the receive side. Calling it more than once returns the
// same channel.
func (n *Node) EnableIncomingRequests() <-chan InboundMessage {
	n.incomingOnce.Do(func() {
		n.incomingRequests = make(chan InboundMessage, n.config.InboundMessageQueueDepth)
	})
	return n.incomingRequests
}

// SetHandshakeSetup installs the Handshaking stage. It must be called
// before any connection is accepted or initiated to take effect for that
// connection — races with adaptStream are intentionally the caller's to
// avoid by wiring stages up before serving traffic.
func (n *Node) SetHandshakeSetup(setup HandshakeSetup) { n.handshakeSetup.Store(setup) }

func (n *Node) handshakeSetupValue() (HandshakeSetup, bool) {
	v := n.handshakeSetup.Load()
	if v == nil {
		return HandshakeSetup{}, false
	}
	return v.(HandshakeSetup), true
}

// SetReading installs the Reading stage.
func (n *Node) SetReading(r Reading) { n.reading.Store(r) }

func (n *Node) readingValue() (Reading, bool) {
	v := n.reading.Load()
	if v == nil {
		return nil, false
	}
	return v.(Reading), true
}

// SetWriting installs the Writing stage.
func (n *Node) SetWriting(w Writing) { n.writing.Store(w) }

func (n *Node) writingValue() (Writing, bool) {
	v := n.writing.Load()
	if v == nil {
		return nil, false
	}
	return v.(Writing), true
}

// SetDisconnectHandler installs the Disconnect stage.
func (n *Node) SetDisconnectHandler(d Disconnecting) { n.disconnectHandler.Store(d) }

func (n *Node) disconnectValue() (Disconnecting, bool) {
	v := n.disconnectHandler.Load()
	if v == nil {
		return nil, false
	}
	return v.(Disconnecting), true
}

// MetricsRegisterer exposes the Registerer metrics were (or would be)
// registered with, mostly useful for tests.
func (n *Node) MetricsRegisterer() prometheus.Registerer { return n.config.MetricsRegisterer }

// Close aborts the accept loop and disconnects every live peer. It is safe
// to call more than once.
func (n *Node) Close() {
	n.closeOnce.Do(func() {
		close(n.closeCh)
		n.listener.Close()
		for _, addr := range n.connections.connectedAddrs() {
			n.Disconnect(addr)
		}
	})
}
