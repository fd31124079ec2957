package network

import (
	"context"
	"fmt"
	"time"
)

// Topology names the declarative edge sets ConnectNodes can realize.
type Topology int

const (
	Line Topology = iota
	Ring
	Mesh
	Star
)

func (t Topology) String() string {
	switch t {
	case Line:
		return "line"
	case Ring:
		return "ring"
	case Mesh:
		return "mesh"
	case Star:
		return "star"
	default:
		return "unknown"
	}
}

// topologyEdges computes the (i, j) index pairs, i < j, that topology
// wires across n nodes.
func topologyEdges(n int, topology Topology) [][2]int {
	var edges [][2]int
	switch topology {
	case Line:
		for i := 0; i < n-1; i++ {
			edges = append(edges, [2]int{i, i + 1})
		}
	case Ring:
		edges = topologyEdges(n, Line)
		if n > 2 {
			edges = append(edges, [2]int{0, n - 1})
		}
	case Mesh:
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				edges = append(edges, [2]int{i, j})
			}
		}
	case Star:
		for i := 1; i < n; i++ {
			edges = append(edges, [2]int{0, i})
		}
	}
	return edges
}

// ConnectNodes wires nodes into topology by issuing InitiateConnection for
// every edge and then polling until convergence or ctx is done.
//
// Matching each edge to "both endpoints handshaken" by address is not
// possible on the accepting side: a listener observes its peer's ephemeral
// outbound port, not the address it is reachable at, so the acceptor can
// never look up the dialer's listening PeerAddr in its own registry. This
// implementation instead tracks, per node, the number of edges incident to
// it (its expected degree) and waits for that many connections — handshaken
// if the node has a handshake stage installed, merely connected otherwise —
// to accumulate. This is equivalent to checking both endpoints of every
// edge directly, as long as edges never repeat a node pair, which
// ConnectNodes's own edge sets never do.
func ConnectNodes(ctx context.Context, nodes []*Node, topology Topology) error {
	edges := topologyEdges(len(nodes), topology)

	degree := make([]int, len(nodes))
	for _, e := range edges {
		degree[e[0]]++
		degree[e[1]]++
	}

	for _, e := range edges {
		a, b := nodes[e[0]], nodes[e[1]]
		addr := b.LocalAddr().AddrPort()
		if err := a.InitiateConnection(addr); err != nil {
			return fmt.Errorf("network: connecting node %q to %q: %w", a.Name(), b.Name(), err)
		}
	}

	clk := nodes[0].clock
	ticker := clk.Ticker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		if allConverged(nodes, degree) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("network: topology %s did not converge: %w", topology, ctx.Err())
		case <-ticker.C:
		}
	}
}

func allConverged(nodes []*Node, degree []int) bool {
	for i, n := range nodes {
		if converged(n) < degree[i] {
			return false
		}
	}
	return true
}

// converged counts, for n, the number of peers it considers settled:
// handshaken peers if n has a handshake stage installed, otherwise every
// connected peer (handshaking or handshaken).
func converged(n *Node) int {
	if _, ok := n.handshakeSetupValue(); ok {
		return len(n.HandshakenAddrs())
	}
	return n.NumConnected()
}
