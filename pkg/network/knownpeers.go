package network

import (
	"sync"
	"time"

	"go.uber.org/atomic"
)

// PeerStats accumulates per-remote-address counters. A peer entry is
// created on first observation (accept, initiate, or a manual Add) and is
// never removed implicitly — disconnecting a peer does not forget its
// stats. Counters are lock-free atomics, so the reader, writer and
// handshake goroutines that update them (several of which may register a
// failure for the same address) need no per-entry mutex.
type PeerStats struct {
	MessagesSent     atomic.Uint64
	MessagesReceived atomic.Uint64
	BytesSent        atomic.Uint64
	BytesReceived    atomic.Uint64
	Failures         atomic.Uint64

	firstSeen atomic.Time
	lastSeen  atomic.Time
}

// FirstSeen returns when this address was first observed.
func (s *PeerStats) FirstSeen() time.Time { return s.firstSeen.Load() }

// LastSeen returns the most recent time this address was observed active.
func (s *PeerStats) LastSeen() time.Time { return s.lastSeen.Load() }

func (s *PeerStats) touch(now time.Time) { s.lastSeen.Store(now) }

// knownPeers is a PeerAddr -> PeerStats table. It uses a single lock for
// the map itself (entry creation/lookup), not one lock per entry — the
// entries' own counters are atomics, so readers and writers of an existing
// entry's stats never contend on this lock at all.
type knownPeers struct {
	mu    sync.RWMutex
	peers map[PeerAddr]*PeerStats
	clock interface{ Now() time.Time }
}

func newKnownPeers(clk interface{ Now() time.Time }) *knownPeers {
	return &knownPeers{peers: make(map[PeerAddr]*PeerStats), clock: clk}
}

// add creates a stats entry for addr if one does not already exist, and
// returns it either way.
func (k *knownPeers) add(addr PeerAddr) *PeerStats {
	k.mu.RLock()
	if s, ok := k.peers[addr]; ok {
		k.mu.RUnlock()
		return s
	}
	k.mu.RUnlock()

	k.mu.Lock()
	defer k.mu.Unlock()
	if s, ok := k.peers[addr]; ok {
		return s
	}
	now := k.clock.Now()
	s := &PeerStats{}
	s.firstSeen.Store(now)
	s.lastSeen.Store(now)
	k.peers[addr] = s
	return s
}

func (k *knownPeers) get(addr PeerAddr) (*PeerStats, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	s, ok := k.peers[addr]
	return s, ok
}

func (k *knownPeers) registerSent(addr PeerAddr, n int) {
	s := k.add(addr)
	s.MessagesSent.Inc()
	s.BytesSent.Add(uint64(n))
	s.touch(k.clock.Now())
}

func (k *knownPeers) registerReceived(addr PeerAddr, n int) {
	s := k.add(addr)
	s.MessagesReceived.Inc()
	s.BytesReceived.Add(uint64(n))
	s.touch(k.clock.Now())
}

func (k *knownPeers) registerFailure(addr PeerAddr) {
	s := k.add(addr)
	s.Failures.Inc()
	s.touch(k.clock.Now())
}

// addrs returns every address this table has ever observed.
func (k *knownPeers) addrs() []PeerAddr {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]PeerAddr, 0, len(k.peers))
	for addr := range k.peers {
		out = append(out, addr)
	}
	return out
}
