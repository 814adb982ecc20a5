package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/scooterfleet/scooterpaxos/internal/paxos"
	"github.com/scooterfleet/scooterpaxos/internal/rpc"
)

// Network is the shared registry every node's MemoryTransport in a
// process looks calls up in; it stands in for the sockets a real
// deployment would dial.
type Network struct {
	mu    sync.RWMutex
	nodes map[int]rpc.Handler
}

func NewNetwork() *Network {
	return &Network{nodes: make(map[int]rpc.Handler)}
}

// Register plugs a node's Handler into the network under id. Must be
// called before any other node's transport tries to reach id.
func (n *Network) Register(id int, h rpc.Handler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nodes[id] = h
}

func (n *Network) handler(id int) (rpc.Handler, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	h, ok := n.nodes[id]
	if !ok {
		return nil, fmt.Errorf("transport: unknown peer %d", id)
	}
	return h, nil
}

// MemoryTransport is one node's view of a Network. It implements
// paxos.Transport directly, plus DescribeState/FetchSnapshot/
// FetchLogRange/ForwardWrite for internal/node's recovery and request
// routing, matching internal/rpc.Client's peer-call methods. peers
// must include selfID: a proposer's own acceptor vote counts toward
// quorum exactly like a remote one's (see internal/rpc.Client's
// equivalent note).
type MemoryTransport struct {
	selfID  int
	peers   []int
	network *Network
}

func NewMemoryTransport(selfID int, peers []int, network *Network) *MemoryTransport {
	return &MemoryTransport{selfID: selfID, peers: peers, network: network}
}

func (t *MemoryTransport) Peers() []int { return t.peers }

func (t *MemoryTransport) Prepare(ctx context.Context, peer int, m paxos.Prepare) (paxos.Promise, error) {
	h, err := t.network.handler(peer)
	if err != nil {
		return paxos.Promise{}, err
	}
	reply, err := h.HandlePrepare(rpc.PrepareArgs{Msg: m})
	return reply.Msg, err
}

func (t *MemoryTransport) Accept(ctx context.Context, peer int, m paxos.Accept) (paxos.Accepted, error) {
	h, err := t.network.handler(peer)
	if err != nil {
		return paxos.Accepted{}, err
	}
	reply, err := h.HandleAccept(rpc.AcceptArgs{Msg: m})
	return reply.Msg, err
}

// Learn mirrors internal/rpc.Client.Learn: fire-and-forget, errors
// dropped.
func (t *MemoryTransport) Learn(ctx context.Context, peer int, m paxos.Learn) {
	h, err := t.network.handler(peer)
	if err != nil {
		return
	}
	_, _ = h.HandleLearn(rpc.LearnArgs{Msg: m})
}

func (t *MemoryTransport) DescribeState(ctx context.Context, peer int) (rpc.DescribeStateReply, error) {
	h, err := t.network.handler(peer)
	if err != nil {
		return rpc.DescribeStateReply{}, err
	}
	return h.HandleDescribeState(rpc.DescribeStateArgs{})
}

func (t *MemoryTransport) FetchSnapshot(ctx context.Context, peer int) (rpc.FetchSnapshotReply, error) {
	h, err := t.network.handler(peer)
	if err != nil {
		return rpc.FetchSnapshotReply{}, err
	}
	return h.HandleFetchSnapshot(rpc.FetchSnapshotArgs{})
}

func (t *MemoryTransport) FetchLogRange(ctx context.Context, peer int, lo, hi int64) (rpc.FetchLogRangeReply, error) {
	h, err := t.network.handler(peer)
	if err != nil {
		return rpc.FetchLogRangeReply{}, err
	}
	return h.HandleFetchLogRange(rpc.FetchLogRangeArgs{Lo: lo, Hi: hi})
}

func (t *MemoryTransport) ForwardWrite(ctx context.Context, peer int, cmd paxos.Command) (rpc.ForwardWriteReply, error) {
	h, err := t.network.handler(peer)
	if err != nil {
		return rpc.ForwardWriteReply{}, err
	}
	return h.HandleForwardWrite(rpc.ForwardWriteArgs{Cmd: cmd})
}
