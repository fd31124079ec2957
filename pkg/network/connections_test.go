package network

import (
	"net"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

func testAddr(t *testing.T, port int) PeerAddr {
	t.Helper()
	return netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), uint16(port))
}

func testConnection(addr PeerAddr, side Side) *Connection {
	return newConnection(&net.TCPConn{}, addr, side, 4)
}

func TestConnectionsTryInsertRaceRule(t *testing.T) {
	cs := newConnections()
	addr := testAddr(t, 9001)

	first := testConnection(addr, Responder)
	second := testConnection(addr, Initiator)

	require.True(t, cs.tryInsert(addr, first))
	require.False(t, cs.tryInsert(addr, second), "second insert for the same address must lose the race")
	require.True(t, cs.isHandshaking(addr))
	require.False(t, cs.isHandshaken(addr))
}

func TestConnectionsPromoteDisjoint(t *testing.T) {
	cs := newConnections()
	addr := testAddr(t, 9002)
	conn := testConnection(addr, Initiator)

	require.True(t, cs.tryInsert(addr, conn))
	require.True(t, cs.promote(addr))

	require.False(t, cs.isHandshaking(addr))
	require.True(t, cs.isHandshaken(addr))
	require.True(t, cs.isConnected(addr))
}

func TestConnectionsPromoteMissingFails(t *testing.T) {
	cs := newConnections()
	addr := testAddr(t, 9003)
	require.False(t, cs.promote(addr))
}

func TestConnectionsRemoveFromEitherMap(t *testing.T) {
	cs := newConnections()
	handshaking := testAddr(t, 9004)
	handshaken := testAddr(t, 9005)

	require.True(t, cs.tryInsert(handshaking, testConnection(handshaking, Responder)))
	require.True(t, cs.tryInsert(handshaken, testConnection(handshaken, Responder)))
	require.True(t, cs.promote(handshaken))

	_, ok := cs.remove(handshaking)
	require.True(t, ok)
	_, ok = cs.remove(handshaken)
	require.True(t, ok)

	_, ok = cs.remove(handshaking)
	require.False(t, ok, "a second removal must report false")
}

func TestConnectionsNumConnected(t *testing.T) {
	cs := newConnections()
	a, b := testAddr(t, 9006), testAddr(t, 9007)

	require.Equal(t, 0, cs.numConnected())
	require.True(t, cs.tryInsert(a, testConnection(a, Initiator)))
	require.True(t, cs.tryInsert(b, testConnection(b, Responder)))
	require.Equal(t, 2, cs.numConnected())

	require.True(t, cs.promote(a))
	require.Equal(t, 2, cs.numConnected(), "num_connected counts both maps")
}

func TestConnectionsHandshakenSnapshotIsACopy(t *testing.T) {
	cs := newConnections()
	addr := testAddr(t, 9008)
	require.True(t, cs.tryInsert(addr, testConnection(addr, Initiator)))
	require.True(t, cs.promote(addr))

	snap := cs.handshakenSnapshot()
	require.Len(t, snap, 1)

	delete(snap, addr)
	require.True(t, cs.isHandshaken(addr), "mutating the snapshot must not affect the registry")
}
