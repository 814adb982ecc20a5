// Package cluster is the thin collaborator that knows the fixed set of
// peers in this deployment and nothing else: no discovery, no dynamic
// membership, no health checking. Membership changes are an operational
// event (edit config, restart), never a runtime protocol.
package cluster

import "sort"

// Peer is one node's static address.
type Peer struct {
	ID   int
	Addr string
}

// Directory is the fixed peer list every node is configured with. It
// answers "who else is in this cluster" and "what is the quorum size",
// nothing more — it carries no leadership or health state.
type Directory struct {
	self  int
	peers map[int]string
}

// New builds a Directory from a static peer list. selfID must be one of
// the peer IDs.
func New(selfID int, peers []Peer) *Directory {
	m := make(map[int]string, len(peers))
	for _, p := range peers {
		m[p.ID] = p.Addr
	}
	return &Directory{self: selfID, peers: m}
}

// Self returns this node's own ID.
func (d *Directory) Self() int { return d.self }

// Size is the total number of nodes in the cluster, including self.
func (d *Directory) Size() int { return len(d.peers) }

// Quorum is the majority size: floor(n/2)+1.
func (d *Directory) Quorum() int { return d.Size()/2 + 1 }

// Others returns every peer ID except self, sorted for deterministic
// iteration order in tests and logs.
func (d *Directory) Others() []int {
	out := make([]int, 0, len(d.peers)-1)
	for id := range d.peers {
		if id != d.self {
			out = append(out, id)
		}
	}
	sort.Ints(out)
	return out
}

// All returns every peer ID, including self, sorted.
func (d *Directory) All() []int {
	out := make([]int, 0, len(d.peers))
	for id := range d.peers {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

// Addr returns the network address of the given peer ID.
func (d *Directory) Addr(id int) (string, bool) {
	addr, ok := d.peers[id]
	return addr, ok
}
