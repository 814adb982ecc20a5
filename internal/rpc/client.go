package rpc

import (
	"context"
	"fmt"
	"net"
	"net/rpc"
	"sync"
	"time"

	"github.com/scooterfleet/scooterpaxos/internal/cluster"
	"github.com/scooterfleet/scooterpaxos/internal/paxos"
)

// Client reaches every peer named in a cluster.Directory over real TCP
// connections, dialing lazily and caching one connection per peer. It
// implements paxos.Transport directly, plus the wider recovery/forward
// calls node needs that are outside Paxos proper.
//
// Peers() includes self: a proposer's own vote must count toward
// quorum the same way a remote acceptor's does (self-to-self goes out
// over a loopback TCP connection to this node's own rpc.Server), or a
// 3-node cluster could never tolerate a single peer outage and a
// single-node cluster could never reach quorum at all.
type Client struct {
	dir         *cluster.Directory
	dialTimeout time.Duration

	mu    sync.Mutex
	conns map[int]*rpc.Client
}

func NewClient(dir *cluster.Directory, dialTimeout time.Duration) *Client {
	return &Client{
		dir:         dir,
		dialTimeout: dialTimeout,
		conns:       make(map[int]*rpc.Client),
	}
}

func (c *Client) Peers() []int { return c.dir.All() }

func (c *Client) conn(peer int) (*rpc.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.conns[peer]; ok {
		return cl, nil
	}
	addr, ok := c.dir.Addr(peer)
	if !ok {
		return nil, fmt.Errorf("rpc: unknown peer %d", peer)
	}
	conn, err := net.DialTimeout("tcp", addr, c.dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("rpc: dial peer %d at %s: %w", peer, addr, err)
	}
	cl := rpc.NewClient(conn)
	c.conns[peer] = cl
	return cl, nil
}

// dropConn evicts a cached connection after an error, so the next call
// redials instead of reusing a dead socket.
func (c *Client) dropConn(peer int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.conns[peer]; ok {
		cl.Close()
		delete(c.conns, peer)
	}
}

// call makes one RPC, abandoning it (but not the underlying connection,
// which net/rpc's Call will still complete asynchronously) if ctx is
// done first. net/rpc has no native cancellation, so this is the usual
// Go-call-plus-select workaround.
func (c *Client) call(ctx context.Context, peer int, method string, args, reply interface{}) error {
	cl, err := c.conn(peer)
	if err != nil {
		return err
	}
	done := make(chan error, 1)
	call := cl.Go(method, args, reply, nil)
	go func() {
		<-call.Done
		done <- call.Error
	}()
	select {
	case err := <-done:
		if err != nil {
			c.dropConn(peer)
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) Prepare(ctx context.Context, peer int, m paxos.Prepare) (paxos.Promise, error) {
	var reply PrepareReply
	if err := c.call(ctx, peer, "Service.Prepare", &PrepareArgs{Msg: m}, &reply); err != nil {
		return paxos.Promise{}, err
	}
	return reply.Msg, nil
}

func (c *Client) Accept(ctx context.Context, peer int, m paxos.Accept) (paxos.Accepted, error) {
	var reply AcceptReply
	if err := c.call(ctx, peer, "Service.Accept", &AcceptArgs{Msg: m}, &reply); err != nil {
		return paxos.Accepted{}, err
	}
	return reply.Msg, nil
}

// Learn is fire-and-forget: a dead or slow peer just misses the
// notification and catches up later via recovery, so failures are
// dropped rather than surfaced.
func (c *Client) Learn(ctx context.Context, peer int, m paxos.Learn) {
	var reply LearnReply
	_ = c.call(ctx, peer, "Service.Learn", &LearnArgs{Msg: m}, &reply)
}

func (c *Client) DescribeState(ctx context.Context, peer int) (DescribeStateReply, error) {
	var reply DescribeStateReply
	err := c.call(ctx, peer, "Service.DescribeState", &DescribeStateArgs{}, &reply)
	return reply, err
}

func (c *Client) FetchSnapshot(ctx context.Context, peer int) (FetchSnapshotReply, error) {
	var reply FetchSnapshotReply
	err := c.call(ctx, peer, "Service.FetchSnapshot", &FetchSnapshotArgs{}, &reply)
	return reply, err
}

func (c *Client) FetchLogRange(ctx context.Context, peer int, lo, hi int64) (FetchLogRangeReply, error) {
	var reply FetchLogRangeReply
	err := c.call(ctx, peer, "Service.FetchLogRange", &FetchLogRangeArgs{Lo: lo, Hi: hi}, &reply)
	return reply, err
}

func (c *Client) ForwardWrite(ctx context.Context, peer int, cmd paxos.Command) (ForwardWriteReply, error) {
	var reply ForwardWriteReply
	err := c.call(ctx, peer, "Service.ForwardWrite", &ForwardWriteArgs{Cmd: cmd}, &reply)
	return reply, err
}

// Close drops every cached connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for peer, cl := range c.conns {
		cl.Close()
		delete(c.conns, peer)
	}
	return nil
}
