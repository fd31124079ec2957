package network

import "net/netip"

// PeerAddr is the identity used everywhere a peer is referenced: an IP
// address plus a TCP port. netip.AddrPort is comparable, so it is used
// directly as a map key throughout the Connections registry and KnownPeers.
type PeerAddr = netip.AddrPort

// Side tags the role a Connection's socket was created in. It is set once,
// at socket creation, and never changes.
type Side int

const (
	// Initiator is the side that called InitiateConnection (the dialer).
	Initiator Side = iota
	// Responder is the side that accepted the inbound connection.
	Responder
)

func (s Side) String() string {
	if s == Initiator {
		return "initiator"
	}
	return "responder"
}

// Other returns the logical negation of s, used to pick which role a
// handshake closure plays when a node is both client and server of
// different peers.
func (s Side) Other() Side {
	if s == Initiator {
		return Responder
	}
	return Initiator
}
