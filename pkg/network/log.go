package network

import "go.uber.org/zap"

// peerLogger returns a child logger pre-populated with the node name and
// peer address fields every logged event for this node should carry.
func (n *Node) peerLogger(addr PeerAddr) *zap.Logger {
	return n.log.With(zap.String("node", n.name), zap.Stringer("peer", addr))
}

// connLogger additionally carries the connection's correlation id, letting
// one connection's whole lifecycle (across the handshake, reader and
// writer tasks) be grepped out of interleaved logs even if the same
// address reconnects later in the process's life.
func (n *Node) connLogger(conn *Connection) *zap.Logger {
	return n.peerLogger(conn.addr).With(zap.Stringer("conn", conn.id), zap.Stringer("side", conn.side))
}
